//go:build llama

package manager

// Link against libllama from ./bin and look for it next to the binary at
// runtime ($ORIGIN), so `go build -tags llama -o bin/moxind` runs in place.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../bin -lllama
*/
import "C"
