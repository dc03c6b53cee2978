package chatstream

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/voxloop/widget-core/internal/model"
)

// sseReader decodes server-sent events from a streaming response body.
// The stream terminator sentinel is reported as io.EOF.
type sseReader struct {
	reader *bufio.Reader
	body   io.Closer
}

func newSSEReader(body io.ReadCloser) *sseReader {
	return &sseReader{
		reader: bufio.NewReader(body),
		body:   body,
	}
}

// Next returns the data payload of the next event. Multi-line data fields
// are joined with newlines per the SSE framing rules.
func (s *sseReader) Next() ([]byte, error) {
	var data bytes.Buffer

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if data.Len() == 0 {
				if err == io.EOF {
					return nil, io.EOF
				}
				continue
			}
			return s.finish(data.Bytes())
		}

		if strings.HasPrefix(line, "data:") {
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(chunk)
		}

		if err == io.EOF {
			if data.Len() == 0 {
				return nil, io.EOF
			}
			return s.finish(data.Bytes())
		}
	}
}

func (s *sseReader) finish(payload []byte) ([]byte, error) {
	if strings.TrimSpace(string(payload)) == model.StreamTerminator {
		return nil, io.EOF
	}
	return payload, nil
}

func (s *sseReader) Close() error {
	if s.body != nil {
		return s.body.Close()
	}
	return nil
}
