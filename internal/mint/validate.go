package mint

import (
	"strings"
	"unicode/utf8"
)

// Validate checks form input before anything touches the network.
func Validate(asset Asset, title, description string, session SigningSession) error {
	switch {
	case strings.TrimSpace(title) == "":
		return validationError("title is required")
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return validationError("title must be at most %d characters", MaxTitleLength)
	case strings.TrimSpace(description) == "":
		return validationError("description is required")
	case utf8.RuneCountInString(description) > MaxDescriptionLength:
		return validationError("description must be at most %d characters", MaxDescriptionLength)
	}
	if err := ValidateAsset(asset); err != nil {
		return err
	}
	if session == nil || !session.IsConnected() || session.AccountID() == "" {
		return validationError("please connect your wallet first")
	}
	return nil
}

func ValidateAsset(asset Asset) error {
	switch {
	case asset.Size() == 0:
		return validationError("please select an image to upload")
	case !strings.HasPrefix(asset.MediaType, "image/"):
		return validationError("please upload an image file, got %q", asset.MediaType)
	case asset.Size() > MaxAssetSize:
		return validationError("file size must be less than 10MB")
	}
	return nil
}
