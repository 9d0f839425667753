package whatsapp

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
)

// RenderQR prints a pairing code as a terminal QR block.
func RenderQR(w io.Writer, code string) {
	fmt.Fprintln(w, "Scan this QR code with your WhatsApp app (Linked devices):")
	qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
}
