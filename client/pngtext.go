package client

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// PanelText is the generation record a backend embeds in the PNG it
// returns.
type PanelText struct {
	// Parameters is the A1111 infotext: prompt, negative prompt and a
	// "Steps: 20, Sampler: ..." settings line.
	Parameters string
	// Prompt is the API form workflow ComfyUI executed, as JSON.
	Prompt string
	// Workflow is the editor form of the same graph, as JSON.
	Workflow string
}

// Empty reports whether no generation record was found.
func (p *PanelText) Empty() bool {
	return p.Parameters == "" && p.Prompt == "" && p.Workflow == ""
}

// Map returns the non-empty fields keyed by their PNG keyword.
func (p *PanelText) Map() map[string]string {
	m := map[string]string{}
	for key, value := range map[string]string{
		"parameters": p.Parameters,
		"prompt":     p.Prompt,
		"workflow":   p.Workflow,
	} {
		if value != "" {
			m[key] = value
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func (p *PanelText) set(keyword, text string) {
	switch keyword {
	case "parameters":
		p.Parameters = text
	case "prompt":
		p.Prompt = text
	case "workflow":
		p.Workflow = text
	}
}

// ReadPanelText scans the tEXt and iTXt chunks of a PNG for the generation
// record. Other chunks are skipped without being buffered.
func ReadPanelText(r io.Reader) (*PanelText, error) {
	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, errors.New("not a valid PNG file")
	}

	text := &PanelText{}
	chunk := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return text, nil
			}
			return nil, err
		}
		length := int64(binary.BigEndian.Uint32(chunk[:4]))
		kind := string(chunk[4:])

		switch kind {
		case "IEND":
			return text, nil
		case "tEXt", "iTXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(r, data); err != nil {
				return nil, err
			}
			keyword, value, err := parseTextChunk(kind, data)
			if err != nil {
				return nil, err
			}
			text.set(keyword, value)
		default:
			if _, err := io.CopyN(io.Discard, r, length); err != nil {
				return nil, err
			}
		}

		// CRC
		if _, err := io.CopyN(io.Discard, r, 4); err != nil {
			return nil, err
		}
	}
}

// parseTextChunk splits a tEXt or iTXt payload into keyword and text.
func parseTextChunk(kind string, data []byte) (string, string, error) {
	keyword, rest, ok := bytes.Cut(data, []byte{0})
	if !ok {
		return "", "", fmt.Errorf("malformed %s chunk", kind)
	}
	if kind == "tEXt" {
		return string(keyword), string(rest), nil
	}

	// iTXt: compression flag, compression method, language tag, translated
	// keyword, then the text
	if len(rest) < 2 {
		return "", "", errors.New("malformed iTXt chunk")
	}
	compressed := rest[0] == 1
	rest = rest[2:]
	for range 2 {
		if _, rest, ok = bytes.Cut(rest, []byte{0}); !ok {
			return "", "", errors.New("malformed iTXt chunk")
		}
	}
	if !compressed {
		return string(keyword), string(rest), nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return "", "", fmt.Errorf("iTXt %q: %w", keyword, err)
	}
	defer zr.Close()
	value, err := io.ReadAll(zr)
	if err != nil {
		return "", "", fmt.Errorf("iTXt %q: %w", keyword, err)
	}
	return string(keyword), string(value), nil
}
