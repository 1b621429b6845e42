package uaclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/opcua-capture/internal/protocol"
)

// monitorChunk bounds the items per CreateMonitoredItems request.
const monitorChunk = 1000

type subscription struct {
	sub    *opcua.Subscription
	items  int
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) Items() int { return s.items }

func (s *subscription) Cancel(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.sub.Cancel(ctx)
		s.cancel()
		<-s.done
	})
	return err
}

// Subscribe creates the subscription, adds one monitored item per point
// (client handle = point index) and starts delivery to h.
func (s *session) Subscribe(ctx context.Context, spec protocol.SubscriptionSpec, points []protocol.Point, h protocol.Handler) (protocol.Subscription, error) {
	reqs := make([]*ua.MonitoredItemCreateRequest, 0, len(points))
	for i, p := range points {
		nid, err := ua.ParseNodeID(p.ID)
		if err != nil {
			return nil, fmt.Errorf("uaclient: parse node id %q: %w", p.ID, err)
		}
		reqs = append(reqs, opcua.NewMonitoredItemCreateRequestWithDefaults(nid, ua.AttributeIDValue, uint32(i)))
	}

	notifyCh := make(chan *opcua.PublishNotificationData, 256)
	sub, err := s.client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: spec.PublishingInterval,
	}, notifyCh)
	if err != nil {
		return nil, fmt.Errorf("uaclient: create subscription: %w", err)
	}

	accepted := 0
	for start := 0; start < len(reqs); start += monitorChunk {
		end := min(start+monitorChunk, len(reqs))

		resp, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, reqs[start:end]...)
		if err != nil {
			_ = sub.Cancel(ctx)
			return nil, fmt.Errorf("uaclient: add monitored items: %w", err)
		}
		for i, r := range resp.Results {
			if r.StatusCode != ua.StatusOK {
				s.log.Warn().
					Str("point", points[start+i].ID).
					Str("status", r.StatusCode.Error()).
					Msg("monitored item rejected")
				continue
			}
			accepted++
		}
	}

	dctx, cancel := context.WithCancel(context.Background())
	out := &subscription{
		sub:    sub,
		items:  accepted,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	d := &deliverer{points: points, h: h, workers: s.workers, log: s.log}
	go func() {
		defer close(out.done)
		d.run(dctx, notifyCh)
	}()

	return out, nil
}

// deliverer fans data-change notifications out to the handler, one call
// per point, on a bounded worker group.
type deliverer struct {
	points  []protocol.Point
	h       protocol.Handler
	workers int
	log     zerolog.Logger
}

func (d *deliverer) run(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Error != nil {
				d.log.Warn().Err(msg.Error).Msg("publish error")
				continue
			}
			if dcn, ok := msg.Value.(*ua.DataChangeNotification); ok {
				d.deliver(dcn)
			}
		}
	}
}

// deliver groups the notification by point and hands every group to the
// handler. Groups of one point keep delivery order; groups run concurrently.
func (d *deliverer) deliver(dcn *ua.DataChangeNotification) {
	groups, order := groupByPoint(dcn, d.points)

	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, idx := range order {
		pointID, recs := d.points[idx].ID, groups[idx]
		g.Go(func() error {
			d.h.HandleBatch(pointID, recs)
			return nil
		})
	}
	_ = g.Wait()
}

// groupByPoint converts monitored item notifications into records keyed by
// point index. order lists indexes by first appearance.
func groupByPoint(dcn *ua.DataChangeNotification, points []protocol.Point) (map[int][]protocol.Record, []int) {
	groups := make(map[int][]protocol.Record)
	var order []int

	for _, item := range dcn.MonitoredItems {
		if item == nil {
			continue
		}
		idx := int(item.ClientHandle)
		if idx < 0 || idx >= len(points) {
			continue
		}
		if _, seen := groups[idx]; !seen {
			order = append(order, idx)
		}
		groups[idx] = append(groups[idx], toRecord(points[idx].ID, item.Value))
	}
	return groups, order
}

func toRecord(pointID string, dv *ua.DataValue) protocol.Record {
	r := protocol.Record{PointID: pointID}
	if dv == nil {
		return r
	}
	if dv.Value != nil {
		r.Value = dv.Value.Value()
	}
	r.SourceTimestamp = dv.SourceTimestamp
	r.Status = uint32(dv.Status)
	return r
}
