package queue

import (
	"fmt"
	"strconv"

	"voucher_mall/internal/model"
)

// parseOrderIntent 将流消息的字段映射还原为订单。
// 字段约定由资格校验脚本的 XADD 决定：id / userId / voucherId。
func parseOrderIntent(values map[string]interface{}) (model.VoucherOrder, error) {
	idStr, err := getStreamString(values, "id")
	if err != nil {
		return model.VoucherOrder{}, err
	}
	userStr, err := getStreamString(values, "userId")
	if err != nil {
		return model.VoucherOrder{}, err
	}
	voucherStr, err := getStreamString(values, "voucherId")
	if err != nil {
		return model.VoucherOrder{}, err
	}

	orderID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return model.VoucherOrder{}, fmt.Errorf("invalid id %q", idStr)
	}
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return model.VoucherOrder{}, fmt.Errorf("invalid userId %q", userStr)
	}
	voucherID, err := strconv.ParseInt(voucherStr, 10, 64)
	if err != nil {
		return model.VoucherOrder{}, fmt.Errorf("invalid voucherId %q", voucherStr)
	}
	if orderID <= 0 || userID <= 0 || voucherID <= 0 {
		return model.VoucherOrder{}, fmt.Errorf("non-positive intent fields id=%d user=%d voucher=%d", orderID, userID, voucherID)
	}

	return model.VoucherOrder{
		ID:        orderID,
		UserID:    userID,
		VoucherID: voucherID,
		Status:    model.OrderStatusUnpaid,
	}, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
