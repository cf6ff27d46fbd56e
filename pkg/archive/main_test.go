package archive

import (
	"io"
	"testing"

	"github.com/cellardb/cellar/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, Output: io.Discard})
	m.Run()
}
