package connectors

import "fmt"

type codeInfo struct {
	Kind    Kind
	Reason  string
	Message string
}

// LBankErrorCodes maps LBank error_code values to the failure taxonomy.
var LBankErrorCodes = map[string]codeInfo{
	"10000": {KindExchange, "server_error", "Internal error"},
	"10001": {KindInvalidRequest, "invalid_parameter", "The required parameters can not be empty"},
	"10002": {KindInvalidRequest, "invalid_parameter", "Validation failed"},
	"10003": {KindInvalidRequest, "invalid_parameter", "Invalid parameter"},
	"10004": {KindRateLimited, "rate_limited", "Request too frequent"},
	"10005": {KindAuthFailure, "auth_failure", "Secret key does not exist"},
	"10006": {KindAuthFailure, "auth_failure", "User does not exist"},
	"10007": {KindAuthFailure, "auth_failure", "Invalid signature"},
	"10008": {KindInvalidRequest, "invalid_parameter", "Invalid trading pair"},
	"10009": {KindInvalidRequest, "invalid_parameter", "Price and/or amount are required for limit order"},
	"10010": {KindInvalidRequest, "invalid_parameter", "Price and/or amount below minimum"},
	"10013": {KindInvalidRequest, "invalid_parameter", "The amount is too small"},
	"10014": {KindExchange, "insufficient_balance", "Insufficient amount of money in account"},
	"10015": {KindInvalidRequest, "invalid_parameter", "Invalid order type"},
	"10016": {KindExchange, "insufficient_balance", "Insufficient account balance"},
	"10017": {KindExchange, "server_error", "Server error"},
	"10022": {KindAuthFailure, "auth_failure", "Invalid authorization"},
	"10024": {KindAuthFailure, "permission_denied", "User cannot trade on this pair"},
	"10025": {KindExchange, "order_state", "Order has been filled"},
	"10026": {KindExchange, "order_state", "Order has been cancelled"},
	"10027": {KindExchange, "order_state", "Order is cancelling"},
	"10031": {KindInvalidRequest, "invalid_parameter", "echostr length must be between 30 and 40"},
	"10033": {KindExchange, "server_error", "Failed to create order"},
	"10036": {KindInvalidRequest, "invalid_parameter", "customID duplicated"},
	"10100": {KindAuthFailure, "permission_denied", "Has no privilege to withdraw"},
	"10600": {KindClockSkew, "replay_detected", "Intercepted by replay attacks filter, check timestamp"},
	"10601": {KindExchange, "server_error", "Interface closed unavailable"},
}

func lbankError(code, msg string) *Error {
	info, ok := LBankErrorCodes[code]
	if !ok {
		info = codeInfo{Kind: KindExchange, Reason: "unknown", Message: "Unknown error"}
	}
	if msg == "" {
		msg = info.Message
	}
	return &Error{
		Kind:     info.Kind,
		Exchange: ExchangeLBank,
		Code:     code,
		Reason:   info.Reason,
		Message:  msg,
	}
}

// GetErrorMsg returns a readable description for an LBank error code.
func GetErrorMsg(code string) string {
	if info, ok := LBankErrorCodes[code]; ok {
		return info.Message
	}
	return fmt.Sprintf("Unknown error code: %s", code)
}
