package llm

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/bill-trends/constants"
)

// ReadImageDataURL loads an image as a data URL for vision requests. Files above maxMB are
// rejected; maxMB <= 0 uses the default gate.
func ReadImageDataURL(path string, maxMB int) (string, error) {
	if constants.MapExtToFormat(filepath.Ext(path)) != constants.IMAGE {
		return "", fmt.Errorf("not an image: %s", filepath.Base(path))
	}
	if maxMB <= 0 {
		maxMB = constants.MaxVisionMBDefault
	}
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if st.Size() > int64(maxMB)<<20 {
		return "", fmt.Errorf("image exceeds %d MB vision limit", maxMB)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mt := constants.MIMEForExt(filepath.Ext(path))
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}
