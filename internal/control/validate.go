package control

import (
	"strings"

	"ppgram/server/internal/ppgerr"
)

func validateUsername(username string) error {
	if !strings.HasPrefix(username, "@") || len(username) < 4 || len(username) > 15 {
		return ppgerr.New(ppgerr.KindValidation, "Invalid username")
	}
	return nil
}

func validateName(name string) error {
	if len(name) < 1 || len(name) > 60 {
		return ppgerr.New(ppgerr.KindValidation, "Invalid name")
	}
	return nil
}
