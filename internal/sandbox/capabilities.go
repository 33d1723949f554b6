package sandbox

import (
	"path"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// allowedPackages is the full capability set granted to interpreted code.
// Everything else (os, os/exec, net, net/http, syscall, reflect, unsafe,
// io) simply does not exist inside the interpreter: the symbols are never
// loaded, so access is denied structurally rather than by advisory review.
var allowedPackages = []string{
	"strings",
	"strconv",
	"fmt",
	"math",
	"sort",
	"time",
	"regexp",
	"unicode",
	"encoding/json",
}

// capabilitySymbols filters yaegi's stdlib symbol table down to the
// allow-list. Symbol keys follow yaegi's "importPath/name" convention.
func capabilitySymbols() interp.Exports {
	out := make(interp.Exports, len(allowedPackages))
	for _, pkg := range allowedPackages {
		key := pkg + "/" + path.Base(pkg)
		if syms, ok := stdlib.Symbols[key]; ok {
			out[key] = syms
		}
	}
	return out
}

// AllowedPackages returns a copy of the import allow-list, for prompts and
// error messages.
func AllowedPackages() []string {
	out := make([]string, len(allowedPackages))
	copy(out, allowedPackages)
	return out
}
