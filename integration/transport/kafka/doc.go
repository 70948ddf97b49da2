// Package kafka carries command deliveries over Kafka topics.
//
// Scheduler implements command.Scheduler and Receiver implements
// command.Receiver, so both compose with the middleware of the command
// package:
//
//	cfg := kafka.DefaultConfig()
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	scheduler, err := kafka.NewSchedulerFromConfig[SendInvoice](cfg)
//	if err != nil {
//		return err
//	}
//	defer scheduler.Close()
//
//	receiver, err := kafka.NewReceiverFromConfig[SendInvoice](cfg, kafka.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer receiver.Close()
//	unsubscribe, err := receiver.Subscribe(ctx, handler)
//
// # Wire format
//
// The value is the JSON encoded command. Headers carry the content type, the
// idempotency token as message id, the command type, the due time as
// scheduled enqueue time (RFC 3339) and previous attempts + 1 as delivery
// count. The token is also the message key, so redeliveries of one command
// stay on one partition.
//
// # Acknowledgement
//
// Offsets are committed only on Complete and Cancel; a retried or paused
// message stays uncommitted. Commits are per partition offset, so while such
// a message is unsettled no later message of its partition is committed
// either, and the group fetches it again after a restart or rebalance.
// Kafka has no delayed or per-message redelivery, so the receiver waits for
// the scheduled enqueue time on its clock, and WithRedelivery
// (Config.Redeliver) opts into re-producing a Retry or Pause with its new due
// time before the original is committed. That wait blocks the stream: a
// redelivered message with a long retry period delays the ones behind it.
package kafka
