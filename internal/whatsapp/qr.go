package whatsapp

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
)

// QRPrinter renders pairing codes on a terminal.
func QRPrinter(w io.Writer) func(code string) {
	return func(code string) {
		fmt.Fprintln(w, "Scan this code with WhatsApp > Linked devices > Link a device:")
		qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
	}
}
