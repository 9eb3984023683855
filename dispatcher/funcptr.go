package dispatcher

import "reflect"

// funcPointer extracts the code pointer of a Callback so two Callback
// values created from the same function are recognized as identical, per
// Register/Unregister's duplicate semantics. Closures created from one
// function literal share that code pointer whatever they capture, so only
// their context tells such registrations apart.
func funcPointer(cb Callback) uintptr {
	if cb == nil {
		return 0
	}
	return reflect.ValueOf(cb).Pointer()
}
