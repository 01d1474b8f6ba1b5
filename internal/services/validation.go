package services

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aihub/knowledge-go/internal/errors"
)

var validate = validator.New()

// validateStruct 校验请求结构体上的validate标签
func validateStruct(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	if verrs, ok := err.(validator.ValidationErrors); ok {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed on '%s'", fe.Field(), fe.Tag()))
		}
		return errors.NewValidationError(strings.Join(msgs, "; "))
	}
	return errors.NewValidationError(err.Error())
}

// validateChunkSettings 分块重叠必须小于分块长度
func validateChunkSettings(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return errors.NewValidationError("chunk_size must be positive")
	}
	if chunkOverlap < 0 {
		return errors.NewValidationError("chunk_overlap must not be negative")
	}
	if chunkOverlap >= chunkSize {
		return errors.NewValidationError("chunk_overlap must be smaller than chunk_size")
	}
	return nil
}

// validateFilename 上传文件名必须携带受支持的扩展名
func validateFilename(filename string, supported []string) error {
	if strings.TrimSpace(filename) == "" {
		return errors.NewValidationError("filename is required")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return errors.NewBusinessError(errors.ErrCodeUnsupportedFileType, "file has no extension")
	}
	for _, s := range supported {
		if ext == s {
			return nil
		}
	}
	return errors.NewBusinessError(errors.ErrCodeUnsupportedFileType,
		fmt.Sprintf("file type %s is not supported", ext))
}
