package errors

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTPErrorResponse представляет структуру HTTP ответа об ошибке
type HTTPErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Если есть ошибки после выполнения запроса
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			status, response := ToHTTPResponse(err)
			c.JSON(status, response)
			c.Abort()
			return
		}
	}
}

// HandleGinError пишет ошибку в ответ и прерывает обработку; возвращает true, если ошибка была
func HandleGinError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	status, response := ToHTTPResponse(err)
	c.JSON(status, response)
	c.Abort()
	return true
}

// BindJSON привязывает JSON к структуре и обрабатывает ошибки
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusBadRequest, HTTPErrorResponse{
			Code:    CodeValidationError,
			Message: fmt.Sprintf("Ошибка в JSON данных: %v", err),
		})
		c.Abort()
		return false
	}
	return true
}

// BindQuery привязывает параметры запроса к структуре
func BindQuery(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		c.JSON(http.StatusBadRequest, HTTPErrorResponse{
			Code:    CodeValidationError,
			Message: fmt.Sprintf("Ошибка в параметрах запроса: %v", err),
		})
		c.Abort()
		return false
	}
	return true
}

func NotFoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, HTTPErrorResponse{
			Code:    CodeNotFound,
			Message: fmt.Sprintf("Путь не найден: %s", c.Request.URL.Path),
		})
	}
}

func MethodNotAllowedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, HTTPErrorResponse{
			Code:    CodeValidationError,
			Message: fmt.Sprintf("Метод %s не поддерживается для пути %s", c.Request.Method, c.Request.URL.Path),
		})
	}
}

func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				var err error
				switch t := r.(type) {
				case string:
					err = fmt.Errorf("паника: %s", t)
				case error:
					err = fmt.Errorf("паника: %w", t)
				default:
					err = fmt.Errorf("паника: %v", r)
				}
				LogError(err, "Recovery")
				c.JSON(http.StatusInternalServerError, HTTPErrorResponse{
					Code:    CodeInternalError,
					Message: "Внутренняя ошибка сервера",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}
