package collection

import "errors"

var errNotOpen = errors.New("collection is not open")
