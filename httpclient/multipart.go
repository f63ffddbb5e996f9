package httpclient

import (
	"bytes"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"
)

// FileUpload represents a file to be uploaded in a multipart request.
type FileUpload struct {
	// FieldName is the form field name for the file.
	FieldName string

	// FileName is the name of the file as it appears in the upload.
	FileName string

	// Path, when set, is opened at encoding time.
	Path string

	// Reader provides the file content when Path is empty.
	Reader io.Reader
}

type formField struct {
	key, value string
}

// Form is a multipart/form-data request body.
//
// A Form is passed to the fetch untouched: no JSON content type is added
// and the fetch sets the multipart boundary. The encoded body is built
// once and reused by retries.
//
// Example:
//
//	form := httpclient.NewForm().
//	    Field("title", "Q4 Report").
//	    File("document", "/path/to/report.pdf")
//
//	_, err := client.Post(ctx, "/upload", &httpclient.Request{Body: form})
type Form struct {
	fields []formField
	files  []FileUpload

	once        sync.Once
	body        []byte
	contentType string
	err         error
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{}
}

// Field adds a form field. Fields keep the order they were added in.
func (f *Form) Field(key, value string) *Form {
	f.fields = append(f.fields, formField{key: key, value: value})
	return f
}

// File adds a file upload read from filePath.
func (f *Form) File(fieldName, filePath string) *Form {
	f.files = append(f.files, FileUpload{
		FieldName: fieldName,
		FileName:  filepath.Base(filePath),
		Path:      filePath,
	})
	return f
}

// FileReader adds a file upload read from reader.
func (f *Form) FileReader(fieldName, fileName string, reader io.Reader) *Form {
	f.files = append(f.files, FileUpload{
		FieldName: fieldName,
		FileName:  fileName,
		Reader:    reader,
	})
	return f
}

// Encode returns the multipart body and its content type, boundary
// included. The result is computed on first call and cached.
func (f *Form) Encode() ([]byte, string, error) {
	f.once.Do(func() {
		f.body, f.contentType, f.err = f.build()
	})
	return f.body, f.contentType, f.err
}

// build creates a multipart form body from files and fields.
func (f *Form) build() ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, field := range f.fields {
		if err := writer.WriteField(field.key, field.value); err != nil {
			return nil, "", err
		}
	}

	for _, file := range f.files {
		if err := writeFile(writer, file); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body.Bytes(), writer.FormDataContentType(), nil
}

func writeFile(writer *multipart.Writer, file FileUpload) error {
	reader := file.Reader
	if file.Path != "" {
		fh, err := os.Open(file.Path)
		if err != nil {
			return err
		}
		defer fh.Close()
		reader = fh
	}
	if reader == nil {
		reader = bytes.NewReader(nil)
	}

	part, err := writer.CreateFormFile(file.FieldName, file.FileName)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, reader)
	return err
}
