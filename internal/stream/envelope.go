package stream

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var ErrMalformedFrame = errors.New("malformed token frame")

// Envelope is the wire shape of one streamed token.
type Envelope struct {
	Token string `json:"token"`
}

// DecodeToken extracts the token of a {"token": string} payload. A payload
// without a string token is rejected with ErrMalformedFrame.
func DecodeToken(payload []byte) (string, error) {
	var env struct {
		Token *string `json:"token"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if env.Token == nil {
		return "", errors.Wrap(ErrMalformedFrame, "missing token field")
	}
	return *env.Token, nil
}

// EncodeToken is the inverse of DecodeToken.
func EncodeToken(token string) ([]byte, error) {
	return json.Marshal(Envelope{Token: token})
}
