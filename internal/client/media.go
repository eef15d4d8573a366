package client

import (
	"fmt"
	"os"

	"github.com/h2non/filetype"
	ftypes "github.com/h2non/filetype/types"
)

// loadImage reads path and checks it is an image of at most maxBytes,
// sniffing the type from magic numbers rather than the extension.
func loadImage(path string, maxBytes int64) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", &Error{Op: "upload media", Kind: KindMedia, Err: err}
	}
	if info.Size() > maxBytes {
		return nil, "", &Error{
			Op:   "upload media",
			Kind: KindMedia,
			Err:  fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), maxBytes),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &Error{Op: "upload media", Kind: KindMedia, Err: err}
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == ftypes.Unknown || !filetype.IsImage(data) {
		return nil, "", &Error{
			Op:   "upload media",
			Kind: KindMedia,
			Err:  fmt.Errorf("%s is not a supported image", path),
		}
	}

	return data, kind.MIME.Value, nil
}
