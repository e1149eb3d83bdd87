package middleware

import "github.com/labstack/echo/v4"

// CustomerID returns the authenticated customer, or "" when JWTAuth did not
// run or rejected the request.
func CustomerID(c echo.Context) string {
	s, _ := c.Get(ctxCustomerID).(string)
	return s
}
