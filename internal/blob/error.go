package blob

import "fmt"

func errorf(typeMethod, format string, a ...interface{}) error {
	return fmt.Errorf("github.com/j45k4/puppynet/internal/blob."+typeMethod+": "+format, a...)
}
