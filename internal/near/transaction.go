package near

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/mr-tron/base58"
)

// Action variant indexes as laid out by nearcore.
const actionFunctionCall byte = 2

// FunctionCall is the only action this module ever sends.
type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int
}

type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []FunctionCall
}

type SignedTransaction struct {
	Transaction Transaction
	Signature   [ed25519.SignatureSize]byte
	Hash        [32]byte
}

// Encode serializes the transaction in borsh layout.
func (t Transaction) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writeString(&buf, t.SignerID)
	buf.WriteByte(keyTypeED25519)
	buf.Write(t.PublicKey.Data[:])
	writeU64(&buf, t.Nonce)
	writeString(&buf, t.ReceiverID)
	buf.Write(t.BlockHash[:])
	writeU32(&buf, uint32(len(t.Actions)))
	for _, a := range t.Actions {
		buf.WriteByte(actionFunctionCall)
		writeString(&buf, a.MethodName)
		writeU32(&buf, uint32(len(a.Args)))
		buf.Write(a.Args)
		writeU64(&buf, a.Gas)
		if err := writeU128(&buf, a.Deposit); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Sign hashes the encoded transaction with sha256 and signs the digest.
func (t Transaction) Sign(priv ed25519.PrivateKey) (*SignedTransaction, error) {
	encoded, err := t.Encode()
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(encoded)
	st := &SignedTransaction{Transaction: t, Hash: hash}
	copy(st.Signature[:], ed25519.Sign(priv, hash[:]))
	return st, nil
}

func (s *SignedTransaction) Encode() ([]byte, error) {
	encoded, err := s.Transaction.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(encoded)+1+len(s.Signature))
	out = append(out, encoded...)
	out = append(out, keyTypeED25519)
	out = append(out, s.Signature[:]...)
	return out, nil
}

// Base64 is the form broadcast_tx_commit expects.
func (s *SignedTransaction) Base64() (string, error) {
	raw, err := s.Encode()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func (s *SignedTransaction) HashString() string {
	return base58.Encode(s.Hash[:])
}

// DecodeBlockHash parses a base58 block hash as returned by the RPC.
func DecodeBlockHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("decode block hash: %w", err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("decode block hash: expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeU128(buf *bytes.Buffer, v *big.Int) error {
	var b [16]byte
	if v != nil {
		if v.Sign() < 0 {
			return errors.New("u128: negative value")
		}
		be := v.Bytes()
		if len(be) > len(b) {
			return errors.New("u128: value overflows 128 bits")
		}
		for i, x := range be {
			b[len(be)-1-i] = x
		}
	}
	buf.Write(b[:])
	return nil
}
