package transport

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/m4xw311/cadlink/errors"
)

const challengeSize = 32

var (
	authOK   = []byte("OK")
	authFail = []byte("FAIL")
)

var ErrAuthFailed = errors.Sentinel("transport authentication failed")

// serverHandshake authenticates the peer first, then proves itself.
func serverHandshake(rw io.ReadWriter, secret []byte) error {
	if err := challenge(rw, secret); err != nil {
		return err
	}
	return answer(rw, secret)
}

// clientHandshake mirrors serverHandshake.
func clientHandshake(rw io.ReadWriter, secret []byte) error {
	if err := answer(rw, secret); err != nil {
		return err
	}
	return challenge(rw, secret)
}

// challenge sends a random nonce and checks the peer's HMAC of it.
func challenge(rw io.ReadWriter, secret []byte) error {
	nonce := make([]byte, challengeSize)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrapf(err, "generating challenge")
	}
	if err := WriteFrame(rw, nonce); err != nil {
		return errors.Wrapf(err, "sending challenge")
	}
	reply, err := ReadFrame(rw)
	if err != nil {
		return errors.Wrapf(err, "reading challenge response")
	}
	if !hmac.Equal(reply, sign(secret, nonce)) {
		_ = WriteFrame(rw, authFail)
		return ErrAuthFailed
	}
	return WriteFrame(rw, authOK)
}

// answer signs the peer's nonce and waits for its verdict.
func answer(rw io.ReadWriter, secret []byte) error {
	nonce, err := ReadFrame(rw)
	if err != nil {
		return errors.Wrapf(err, "reading challenge")
	}
	if len(nonce) != challengeSize {
		return errors.Wrapf(ErrAuthFailed, "challenge is %d bytes", len(nonce))
	}
	if err := WriteFrame(rw, sign(secret, nonce)); err != nil {
		return errors.Wrapf(err, "sending challenge response")
	}
	verdict, err := ReadFrame(rw)
	if err != nil {
		return errors.Wrapf(err, "reading verdict")
	}
	if !bytes.Equal(verdict, authOK) {
		return ErrAuthFailed
	}
	return nil
}

func sign(secret, nonce []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(nonce)
	return mac.Sum(nil)
}
