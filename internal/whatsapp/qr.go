package whatsapp

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"

	"whatsapp-bridge/internal/session"
)

// TerminalPrinter renders each pairing code as a half-block QR on w.
func TerminalPrinter(w io.Writer) func(session.PairingArtifact) {
	return func(a session.PairingArtifact) {
		fmt.Fprintln(w, "Scan this code from WhatsApp > Linked devices:")
		qrterminal.GenerateHalfBlock(a.Code, qrterminal.L, w)
	}
}
