package ingest

import (
	"fmt"
	"io"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/paolodgm/solarcast/internal/dataset"
	"github.com/paolodgm/solarcast/internal/models"
)

// FTPDrop pulls logger CSV exports from an anonymous FTP drop directory. The
// logger software rewrites a single rolling export file in place, so every
// fetch re-reads the whole file and relies on the store's dedup. Export
// timestamps are naive wall-clock values interpreted in loc.
type FTPDrop struct {
	host string
	path string
	loc  *time.Location
}

func NewFTPDrop(host, path string, loc *time.Location) *FTPDrop {
	return &FTPDrop{host: host, path: path, loc: loc}
}

func (d *FTPDrop) Fetch() ([]models.Observation, error) {
	conn, err := ftp.Dial(d.host, ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login("anonymous", "anonymous"); err != nil {
		return nil, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(d.path)
	if err != nil {
		return nil, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	obs, err := dataset.ParseBytes(body, d.path, d.loc)
	if err != nil {
		return nil, fmt.Errorf("parse drop file: %w", err)
	}
	for i := range obs {
		obs[i].SourceLabel = "ftp"
	}
	return obs, nil
}
