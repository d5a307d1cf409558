package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"strconv"
)

const defaultMaxUploadSize = 10 * 1024 * 1024

var errTooLarge = errors.New("upload too large")

func formatUploadLimit(bytes int64) string {
	const mb = 1024 * 1024
	if bytes <= 0 {
		return "0MB"
	}
	value := bytes / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

// readUpload returns the file body, refusing anything above limit.
func readUpload(file *multipart.FileHeader, limit int64) ([]byte, error) {
	opened, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer opened.Close()
	data, err := io.ReadAll(io.LimitReader(opened, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	return data, nil
}
