package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// UploadFileFromReader stores an image in the ComfyUI input folder and
// returns the name the server chose, which may differ from filename.
func (c *Client) UploadFileFromReader(ctx context.Context, r io.Reader, filename string, overwrite bool, filetype ImageType) (string, error) {
	if c.kind != ComfyUI {
		return "", newError(ErrorKindUnsupportedBackend, nil, "image upload is not supported by %s", c.kind)
	}

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(formFile, r); err != nil {
		return "", err
	}
	_ = writer.WriteField("overwrite", fmt.Sprintf("%v", overwrite))
	_ = writer.WriteField("type", string(filetype))
	writer.Close()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url("/api/upload/image"), &requestBody)
	if err != nil {
		return "", newError(ErrorKindConnectivity, err, "creating upload request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpclient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", canceledError(ctx)
		}
		return "", newError(ErrorKindConnectivity, err, "POST /api/upload/image")
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", newError(ErrorKindProtocol, nil, "POST /api/upload/image returned %d: %s", resp.StatusCode, summarize(data))
	}
	uploaded := &uploadResponse{}
	if err := json.Unmarshal(data, uploaded); err != nil || uploaded.Name == "" {
		return "", newError(ErrorKindProtocol, err, "malformed upload response %q", summarize(data))
	}
	return uploaded.Name, nil
}

func (c *Client) UploadFileFromPath(ctx context.Context, filePath string, overwrite bool, filetype ImageType) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return c.UploadFileFromReader(ctx, file, filepath.Base(filePath), overwrite, filetype)
}
