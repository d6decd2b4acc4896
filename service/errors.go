package service

import "errors"

var (
	ErrDecode     = errors.New("cannot decode image")
	ErrClassifier = errors.New("classifier failed")
	ErrRender     = errors.New("cannot render mask")
)
