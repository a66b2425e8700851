package emotion

import (
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"

	"thirdcoast.systems/youmood/internal/domain"
)

// DiskFaceStore keeps one JPEG per channel and label under
// <root>/<channel_id>/<column>.jpg.
type DiskFaceStore struct {
	root string
}

func NewDiskFaceStore(root string) *DiskFaceStore {
	return &DiskFaceStore{root: root}
}

// Path is where the face for channelID and label lives.
func (s *DiskFaceStore) Path(channelID string, label domain.Label) string {
	return filepath.Join(s.root, channelID, label.Column()+".jpg")
}

// Save replaces the stored face. Readers see either the old or the new file.
func (s *DiskFaceStore) Save(channelID string, label domain.Label, face image.Image) error {
	if !label.Valid() {
		return fmt.Errorf("emotion: save face: unknown label %q", label)
	}
	if channelID == "" || filepath.Base(channelID) != channelID {
		return fmt.Errorf("emotion: save face: bad channel id %q", channelID)
	}

	dest := s.Path(channelID, label)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("emotion: save face: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+label.Column()+"-*.jpg")
	if err != nil {
		return fmt.Errorf("emotion: save face: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := jpeg.Encode(tmp, face, &jpeg.Options{Quality: 95}); err != nil {
		tmp.Close()
		return fmt.Errorf("emotion: encode face: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("emotion: save face: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("emotion: save face: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("emotion: save face: %w", err)
	}

	slog.Info("saved face", "channel_id", channelID, "label", string(label))
	return nil
}
