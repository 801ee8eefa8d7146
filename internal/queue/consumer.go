package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"voucher_mall/internal/model"
	rediskit "voucher_mall/pkg/redis"

	rd "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Worker 订单落库消费者：从订单意图流读取 Lua 脚本放行的下单意图，
// 加用户锁、复核、条件扣库存、写订单行，全部完成才 ACK。
// 语义：ACK 前崩溃则消息留在 pending，重启先清 pending 再消费新消息，
// 保证已放行的秒杀不会因为进程挂掉而丢单。
// 单消费者是刻意设计：它把关系库写入串行化；如日后扩消费者，
// 用户锁依然保证正确性。
type Worker struct {
	rdb      *rd.Client
	db       *gorm.DB
	producer *Producer // 可为 nil，表示不发订单事件

	stream    string
	group     string
	consumer  string
	lockLease time.Duration
}

func NewWorker(rdb *rd.Client, db *gorm.DB, producer *Producer, stream, group, consumer string, lockLease time.Duration) *Worker {
	return &Worker{
		rdb:       rdb,
		db:        db,
		producer:  producer,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		lockLease: lockLease,
	}
}

// Run 启动消费循环直到 ctx 取消。任何单条消息的处理失败只会影响该条
// （不 ACK、留待 pending 重放），绝不终止循环本身。
func (w *Worker) Run(ctx context.Context) {
	if err := w.ensureGroup(ctx); err != nil {
		logrus.WithError(err).Error("order worker ensure group")
		return
	}

	// 上次崩溃可能留下已投递未确认的消息，先重放完再消费新消息。
	w.drainPending(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		msgs, err := w.readGroup(ctx, ">", 2*time.Second)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logrus.WithError(err).Error("order worker read")
			time.Sleep(300 * time.Millisecond)
			continue
		}

		for _, xm := range msgs {
			if err := w.processOne(ctx, xm); err != nil {
				// 失败不 ACK，消息留在 pending；立刻走一遍重放路径重试。
				logrus.WithError(err).WithField("msg_id", xm.ID).Error("order worker process")
				time.Sleep(200 * time.Millisecond)
				w.drainPending(ctx)
				break
			}
		}
	}
}

// drainPending 从 pending 范围起点逐条重放本消费者已投递未确认的消息，
// 读空为止。重放中再失败就地重试下一轮，不中断循环。
func (w *Worker) drainPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := w.readGroup(ctx, "0", 0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			logrus.WithError(err).Error("order worker read pending")
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if len(msgs) == 0 {
			return
		}
		for _, xm := range msgs {
			if err := w.processOne(ctx, xm); err != nil {
				logrus.WithError(err).WithField("msg_id", xm.ID).Error("order worker replay")
				time.Sleep(200 * time.Millisecond)
				break
			}
		}
	}
}

func (w *Worker) ensureGroup(ctx context.Context) error {
	err := w.rdb.XGroupCreateMkStream(ctx, w.stream, w.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (w *Worker) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := w.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    w.group,
		Consumer: w.consumer,
		Streams:  []string{w.stream, streamID},
		Count:    1,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 1)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

// processOne 处理单条意图。返回 nil 表示消息已终态（成功或确定性丢弃），
// 已 ACK；返回错误表示基础设施故障，不 ACK，等待 pending 重放。
func (w *Worker) processOne(ctx context.Context, xm rd.XMessage) error {
	order, err := parseOrderIntent(xm.Values)
	if err != nil {
		// 脏消息重放多少次都解析不出来，直接 ACK 丢弃，避免堵死队列。
		logrus.WithError(err).WithField("msg_id", xm.ID).Warn("order worker drop dirty intent")
		return w.ackAndDelete(ctx, xm.ID)
	}

	persisted, err := w.createOrder(ctx, order)
	if err != nil {
		return err
	}
	if err := w.ackAndDelete(ctx, xm.ID); err != nil {
		return err
	}

	if persisted && w.producer != nil {
		// 事件是尽力而为的下游通知，发布失败不回滚也不阻塞 ACK。
		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := w.producer.Publish(pubCtx, OrderEvent{
			OrderID:    order.ID,
			UserID:     order.UserID,
			VoucherID:  order.VoucherID,
			CreateTime: time.Now(),
		}); err != nil {
			logrus.WithError(err).WithField("order_id", order.ID).Warn("order event publish failed")
		}
	}
	return nil
}

// createOrder 持用户锁完成「复核 → 条件扣库存 → 写订单」。
// 返回 persisted=false 的都是确定性丢弃（锁竞争、重复单、库存耗尽），
// 调用方照常 ACK；返回错误的是存储故障，不能 ACK。
func (w *Worker) createOrder(ctx context.Context, order model.VoucherOrder) (bool, error) {
	log := logrus.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"user_id":    order.UserID,
		"voucher_id": order.VoucherID,
	})

	// 脚本已做过一人一单，这里的锁只防御绕过脚本的路径。
	lock := rediskit.NewLock(w.rdb, rediskit.OrderLockKey(order.UserID), w.lockLease)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warn("order lock contended, drop intent")
		return false, nil
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil && !errors.Is(err, rediskit.ErrLockNotHeld) {
			log.WithError(err).Warn("order lock release failed")
		}
	}()

	// 复核：正常情况下永远查不到（脚本去重在前），崩溃重放时靠它幂等。
	var count int64
	if err := w.db.WithContext(ctx).Model(&model.VoucherOrder{}).
		Where("user_id = ? AND voucher_id = ?", order.UserID, order.VoucherID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("order revalidate: %w", err)
	}
	if count > 0 {
		log.Warn("duplicate order, drop intent")
		return false, nil
	}

	// 条件扣减保护关系库权威库存，即使 Redis 镜像失真也不会扣成负数。
	res := w.db.WithContext(ctx).Model(&model.SeckillVoucher{}).
		Where("voucher_id = ? AND stock > 0", order.VoucherID).
		UpdateColumn("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return false, fmt.Errorf("stock decrement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		log.Warn("relational stock exhausted, drop intent")
		return false, nil
	}

	if err := w.db.WithContext(ctx).Create(&order).Error; err != nil {
		// 唯一索引兜底：极端竞态下当作重复单丢弃，而不是留在 pending 反复撞。
		if errorsLikeUnique(err) {
			log.Warn("order unique conflict, drop intent")
			return false, nil
		}
		return false, fmt.Errorf("order insert: %w", err)
	}

	log.Info("order persisted")
	return true, nil
}

// ackAndDelete 确认并清理消息。确认必须发生在全部落库动作之后，
// 这是崩溃重放语义的成立前提。
func (w *Worker) ackAndDelete(ctx context.Context, id string) error {
	pipe := w.rdb.TxPipeline()
	pipe.XAck(ctx, w.stream, w.group, id)
	pipe.XDel(ctx, w.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func errorsLikeUnique(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique") || strings.Contains(s, "Duplicate")
}
