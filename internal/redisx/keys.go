package redisx

import "time"

const (
	// Cache of an order's current status: order_status:{order_id}
	KeyOrderStatus = "order_status:%s"

	// Realtime push channel per recipient: notify:user:{user_id}
	ChannelUser = "notify:user:%s"
)

var TTLStatusCache = 5 * time.Minute
