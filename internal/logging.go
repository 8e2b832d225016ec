package internal

import (
	"log"
	"os"
)

// NewLogger returns a stdout logger prefixed with formhooks/<component>.
func NewLogger(component string) *log.Logger {
	prefix := "formhooks"
	if component != "" {
		prefix = prefix + "/" + component
	}
	return log.New(os.Stdout, prefix+" ", log.LstdFlags|log.Lmicroseconds)
}
