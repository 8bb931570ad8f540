package chat

import "errors"

var (
	errInvalidPhoto = errors.New("photo must be non-empty base64")
	errEmptyUpdate  = errors.New("update carries neither text nor photo")
)
