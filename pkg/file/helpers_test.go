package file_test

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
)

var (
	pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)
	pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n")
)

func createFileHeader(filename string, content []byte) *multipart.FileHeader {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil
	}
	if _, err := part.Write(content); err != nil {
		return nil
	}
	if err := writer.Close(); err != nil {
		return nil
	}

	req := &http.Request{
		Method: "POST",
		Header: http.Header{"Content-Type": []string{writer.FormDataContentType()}},
		Body:   io.NopCloser(body),
	}
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		return nil
	}
	if files := req.MultipartForm.File["file"]; len(files) > 0 {
		return files[0]
	}
	return nil
}
