package repo

import "errors"

var ErrDuplicateOrder = errors.New("order reference already exists")
