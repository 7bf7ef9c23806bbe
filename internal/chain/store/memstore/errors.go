package memstore

import "errors"

var errHeightOccupied = errors.New("memstore: height is not tip+1")
