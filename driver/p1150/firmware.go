package p1150

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"ampcorder.dev/p1150/uf2"
)

// ExtractUF2 unwraps a .uf2-formatted firmware image into its flat
// payload bytes, using uf2.FamilyAny since a single-target firmware
// image has no reason to tag a family ID.
func ExtractUF2(r io.Reader) ([]byte, error) {
	return io.ReadAll(uf2.NewReader(r, uf2.FamilyAny))
}

// VerifyFirmware checks a secp256k1 ECDSA signature, in DER form, over the SHA-256 digest of fw against pubKey. Bootloader
// uploads are rejected before the first bl_block if this fails, since
// the device has no way to validate the signature itself.
func VerifyFirmware(fw []byte, pubKey, sig []byte) error {
	pk, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("p1150: invalid firmware public key: %w", err)
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("p1150: invalid firmware signature: %w", err)
	}
	digest := sha256.Sum256(fw)
	if !s.Verify(digest[:], pk) {
		return errors.New("p1150: firmware signature verification failed")
	}
	return nil
}

// firmwareChunkSize is the bl_block payload size. It is well under the
// CBOR command overhead budget for a single 256-byte-ish serial frame.
const firmwareChunkSize = 128

// UploadFirmware verifies fw against pubKey/sig, then streams it to the
// device's bootloader as a sequence of bl_init, bl_block and bl_done
// commands. Any failure mid-upload leaves the bootloader session open;
// the caller should retry from bl_init.
func (c *Controller) UploadFirmware(fw, pubKey, sig []byte) error {
	if err := VerifyFirmware(fw, pubKey, sig); err != nil {
		return err
	}
	if _, err := c.call("bl_init", nil); err != nil {
		return fmt.Errorf("p1150: bl_init: %w", err)
	}
	for off := 0; off < len(fw); off += firmwareChunkSize {
		end := off + firmwareChunkSize
		if end > len(fw) {
			end = len(fw)
		}
		if _, err := c.call("bl_block", map[string]any{"data": fw[off:end]}); err != nil {
			return fmt.Errorf("p1150: bl_block at offset %d: %w", off, err)
		}
	}
	if _, err := c.call("bl_done", nil); err != nil {
		return fmt.Errorf("p1150: bl_done: %w", err)
	}
	return nil
}
