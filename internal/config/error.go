package config

import "fmt"

func errorf(typeMethod, format string, a ...interface{}) error {
	return fmt.Errorf("github.com/j45k4/puppynet/internal/config."+typeMethod+": "+format, a...)
}
