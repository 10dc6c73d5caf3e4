package utils

// All reports whether every element is true. An empty slice is true.
func All(args []bool) bool {
	for _, a := range args {
		if !a {
			return false
		}
	}
	return true
}

// Any reports whether at least one element is true.
func Any(args []bool) bool {
	for _, a := range args {
		if a {
			return true
		}
	}
	return false
}

// None reports whether every element is false.
func None(args []bool) bool {
	return !Any(args)
}
