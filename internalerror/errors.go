package internalerror

import (
	"errors"
)

var (
	InvalidParameter      = errors.New("Invalid parameter")
	Lifecycle             = errors.New("Journal is not in a state to accept the call")
	BoundedCapacity       = errors.New("Write exceeds the slot capacity")
	SmallRequest          = errors.New("First log chunk is smaller than the program unit")
	Empty                 = errors.New("Journal is empty")
	StorageDriver         = errors.New("Storage driver failure")
	InternalInconsistency = errors.New("Internal inconsistency")

	InvalidInput     = errors.New("Invalid input")
	StorageCorrupted = errors.New("Storage is corrupted")
	PowerLoss        = errors.New("Device lost power")
	DeviceTerminated = errors.New("Device is terminated")
)
