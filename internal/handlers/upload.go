package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/learnhub/lmsapi/internal/avatar"
)

const (
	maxMultipartMemory = 10 << 20
	maxAvatarBytes     = 5 << 20
	maxRequestBytes    = maxAvatarBytes + 1<<20
	formFieldAvatar    = "avatar"
)

// formError is a client-facing rejection of a request body.
type formError string

func (e formError) Error() string { return string(e) }

const (
	errInvalidBody      formError = "Invalid request body"
	errAvatarTooBig     formError = "Avatar must be at most 5 MB"
	errTooManyFiles     formError = "Only one avatar file is allowed"
	errAvatarUnreadable formError = "Failed to read avatar file"
)

// requestForm is a flattened request body: text fields plus an optional
// avatar already spooled to disk. The caller must call Close.
type requestForm struct {
	fields map[string]string
	avatar *avatar.Upload
}

func (f *requestForm) value(key string) string {
	if f == nil {
		return ""
	}
	return f.fields[key]
}

func (f *requestForm) Close() {
	if f != nil {
		f.avatar.Remove()
	}
}

// parseRequestForm accepts multipart, urlencoded and JSON bodies. Only a
// multipart body can carry an avatar.
func parseRequestForm(w http.ResponseWriter, r *http.Request) (*requestForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return parseMultipart(r)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, errInvalidBody
		}
		return &requestForm{fields: flatten(r.PostForm)}, nil
	default:
		return parseJSON(r)
	}
}

func parseJSON(r *http.Request) (*requestForm, error) {
	raw := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return &requestForm{fields: map[string]string{}}, nil
		}
		return nil, errInvalidBody
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := value.(string); ok {
			fields[key] = s
		}
	}
	return &requestForm{fields: fields}, nil
}

func parseMultipart(r *http.Request) (*requestForm, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errAvatarTooBig
		}
		return nil, errInvalidBody
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := &requestForm{fields: flatten(r.MultipartForm.Value)}

	files := r.MultipartForm.File[formFieldAvatar]
	if len(files) == 0 {
		return form, nil
	}
	if len(files) > 1 {
		return nil, errTooManyFiles
	}
	if files[0].Size > maxAvatarBytes {
		return nil, errAvatarTooBig
	}

	upload, err := spoolAvatar(files[0])
	if err != nil {
		return nil, err
	}
	form.avatar = upload
	return form, nil
}

// spoolAvatar copies the part to a temp file owned by the returned Upload.
func spoolAvatar(header *multipart.FileHeader) (*avatar.Upload, error) {
	src, err := header.Open()
	if err != nil {
		return nil, errAvatarUnreadable
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "avatar-*"+strings.ToLower(filepath.Ext(header.Filename)))
	if err != nil {
		return nil, errAvatarUnreadable
	}
	upload := &avatar.Upload{Path: dst.Name(), Filename: header.Filename}

	n, err := io.Copy(dst, io.LimitReader(src, maxAvatarBytes+1))
	closeErr := dst.Close()
	switch {
	case err != nil || closeErr != nil:
		upload.Remove()
		return nil, errAvatarUnreadable
	case n > maxAvatarBytes:
		upload.Remove()
		return nil, errAvatarTooBig
	}
	return upload, nil
}

func flatten(values map[string][]string) map[string]string {
	fields := make(map[string]string, len(values))
	for key, vs := range values {
		if len(vs) > 0 {
			fields[key] = vs[0]
		}
	}
	return fields
}
