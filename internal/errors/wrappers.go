package errors

import "github.com/pkg/errors"

func WrappedErrNewLogger(err error) error {
	return errors.WithMessage(err, "new logger")
}

func WrappedErrLoadConfig(err error) error {
	return errors.WithMessage(err, "load config")
}

func WrappedErrTakeSnapshot(err error) error {
	return errors.WithMessage(err, "take process snapshot")
}

func WrappedErrCacheFile(err error, path string) error {
	return errors.WithMessagef(err, "cache file '%s'", path)
}

func WrappedErrUploadFile(err error, path string) error {
	return errors.WithMessagef(err, "upload file '%s'", path)
}

func WrappedErrEncodePayload(err error) error {
	return errors.WithMessage(err, "encode payload")
}

func WrappedErrSendMessage(err error) error {
	return errors.WithMessage(err, "send message")
}
