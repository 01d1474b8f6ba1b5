package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAppErrorMessage Error输出包含原因
func TestAppErrorMessage(t *testing.T) {
	err := NewBusinessError(ErrCodeConflict, "document already exists")
	assert.Equal(t, "document already exists", err.Error())

	cause := stderrors.New("duplicate key")
	assert.Equal(t, "document already exists: duplicate key", err.WithCause(cause).Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

// TestHTTPCodeMapping 业务错误码映射到对应HTTP状态
func TestHTTPCodeMapping(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeKnowledgeBaseNotFound: http.StatusNotFound,
		ErrCodeJobNotFound:           http.StatusNotFound,
		ErrCodePermissionDenied:      http.StatusForbidden,
		ErrCodeQuotaExceeded:         http.StatusForbidden,
		ErrCodeConflict:              http.StatusConflict,
		ErrCodeValidationFailed:      http.StatusBadRequest,
		ErrCodeUnsupportedFileType:   http.StatusBadRequest,
		ErrCodeTimeout:               http.StatusGatewayTimeout,
		ErrCodeDatabaseError:         http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, NewBusinessError(code, "x").HTTPCode, string(code))
	}
}

// TestHasCode 错误链上的码匹配，包括fmt.Errorf包装
func TestHasCode(t *testing.T) {
	err := NewPermissionDeniedError("knowledge base 3")
	assert.True(t, HasCode(err, ErrCodePermissionDenied))
	assert.False(t, HasCode(err, ErrCodeQuotaExceeded))

	wrapped := fmt.Errorf("search failed: %w", err)
	assert.True(t, HasCode(wrapped, ErrCodePermissionDenied))

	assert.False(t, HasCode(stderrors.New("plain"), ErrCodePermissionDenied))
	assert.False(t, HasCode(nil, ErrCodePermissionDenied))
}

// TestGetAppError 非AppError被包装为系统错误并保留原因
func TestGetAppError(t *testing.T) {
	orig := NewValidationError("name is required")
	assert.Same(t, orig, GetAppError(fmt.Errorf("create: %w", orig)))

	plain := stderrors.New("boom")
	wrapped := GetAppError(plain)
	assert.Equal(t, ErrCodeInternalServer, wrapped.Code)
	assert.Equal(t, plain, wrapped.Cause)
	assert.True(t, IsAppError(wrapped))
	assert.False(t, IsAppError(plain))
}

// TestConstructorMessages 构造函数生成的描述信息
func TestConstructorMessages(t *testing.T) {
	assert.Equal(t, "access to knowledge base 7 denied", NewPermissionDeniedError("knowledge base 7").Error())
	assert.Equal(t, "documents quota exceeded (limit 1000)", NewQuotaExceededError("documents", 1000).Error())
	assert.Equal(t, "document not found", NewNotFoundError(ErrCodeDocumentNotFound, "document").Error())
	assert.Equal(t, http.StatusBadGateway, NewExternalError(ErrCodeExternalService, "es down").HTTPCode)
}
