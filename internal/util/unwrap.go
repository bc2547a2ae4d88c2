package util

// Unwrap returns error wrapped by stackerr or kvcache transport error.
// Errors without underlying one are returned as is.
func Unwrap(err error) error {
	type hasUnderlying interface {
		Underlying() error
	}
	for {
		eh, ok := err.(hasUnderlying)
		if !ok {
			return err
		}
		underlying := eh.Underlying()
		if underlying == nil {
			return err
		}
		err = underlying
	}
}
