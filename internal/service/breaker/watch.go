package breaker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JrMarcco/jremind/internal/errs"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Thresholds 配置中心下发的熔断阈值
type Thresholds struct {
	Failure int `json:"failure_threshold"`
	Success int `json:"success_threshold"`
}

func ParseThresholds(raw []byte) (Thresholds, error) {
	var t Thresholds
	if err := json.Unmarshal(raw, &t); err != nil {
		return Thresholds{}, fmt.Errorf("%w: thresholds: %w", errs.ErrInvalidParam, err)
	}
	return t, nil
}

// WatchThresholds 监听配置中心的阈值变更直到 ctx 结束。
// 启动时先读取一次当前值。
func WatchThresholds(ctx context.Context, client *clientv3.Client, key string, b Breaker, logger *zap.Logger) {
	apply := func(raw []byte) {
		t, err := ParseThresholds(raw)
		if err == nil {
			err = b.UpdateThresholds(ctx, t.Failure, t.Success)
		}
		if err != nil {
			logger.Warn("[jremind] ignored invalid breaker thresholds", zap.String("key", key), zap.ByteString("value", raw), zap.Error(err))
		}
	}

	resp, err := client.Get(ctx, key)
	if err != nil {
		logger.Warn("[jremind] failed to read breaker thresholds", zap.String("key", key), zap.Error(err))
	} else if len(resp.Kvs) > 0 {
		apply(resp.Kvs[0].Value)
	}

	watchChan := client.Watch(ctx, key)
	for watchResp := range watchChan {
		for _, ev := range watchResp.Events {
			if ev.Type == clientv3.EventTypePut {
				apply(ev.Kv.Value)
			}
		}
	}
}
