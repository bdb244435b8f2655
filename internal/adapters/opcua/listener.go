package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// AmbientListener subscribes to OPC UA nodes (room temperature, humidity)
// and emits one observation per data change into the bound Emitter.
type AmbientListener struct {
	probeID string
	cfg     Config
	obs     ports.Observability
	now     func() time.Time

	mu        sync.Mutex
	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig
	seq       map[string]uint64
	started   bool
}

func NewAmbientListener(probeID string, cfg Config, obs ports.Observability) (*AmbientListener, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("opcua: %w", err)
	}
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &AmbientListener{
		probeID: probeID,
		cfg:     cfg,
		obs:     obs,
		now:     time.Now,
		seq:     make(map[string]uint64),
	}, nil
}

func (l *AmbientListener) Start(ctx context.Context, out ports.Emitter) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return errors.New("opcua listener already started")
	}
	l.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	client, err := opcua.NewClient(l.cfg.Endpoint, l.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(l.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: l.cfg.PublishInterval}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handles, err := l.monitor(ctx, sub)
	if err != nil {
		cancel()
		_ = sub.Cancel(ctx)
		_ = client.Close(ctx)
		return err
	}

	l.mu.Lock()
	l.client = client
	l.sub = sub
	l.cancel = cancel
	l.handleMap = handles
	l.started = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.consume(runCtx, notifyCh, out)
	return nil
}

func (l *AmbientListener) monitor(ctx context.Context, sub *opcua.Subscription) (map[uint32]NodeConfig, error) {
	handles := make(map[uint32]NodeConfig, len(l.cfg.Nodes))
	for i, node := range l.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if l.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(l.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			return nil, fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 {
			return nil, fmt.Errorf("monitor node %q failed: empty result", node.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			return nil, fmt.Errorf("monitor node %q failed: %s", node.NodeID, res.Results[0].StatusCode)
		}
		handles[handle] = node
	}
	return handles, nil
}

func (l *AmbientListener) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	cancel, sub, client := l.cancel, l.sub, l.client
	l.started = false
	l.cancel, l.sub, l.client = nil, nil, nil
	l.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	l.wg.Wait()
	return err
}

func (l *AmbientListener) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out ports.Emitter) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				l.obs.LogError("opcua_notification_failed", notif.Error, ports.F("probe", l.probeID))
				continue
			}
			if data, ok := notif.Value.(*ua.DataChangeNotification); ok {
				l.emit(data, out)
			}
		}
	}
}

func (l *AmbientListener) emit(data *ua.DataChangeNotification, out ports.Emitter) {
	for _, item := range data.MonitoredItems {
		if item == nil || item.Value == nil {
			continue
		}
		l.mu.Lock()
		node, ok := l.handleMap[item.ClientHandle]
		l.mu.Unlock()
		if !ok {
			continue
		}
		v, ok := variantToFloat(item.Value.Value)
		if !ok {
			l.obs.LogInfo("opcua_unsupported_value", ports.F("node", node.NodeID), ports.F("type", fmt.Sprintf("%T", item.Value.Value)))
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = l.now()
		}

		o := &domain.Observation{
			ProbeID:   l.probeID,
			SensorID:  node.SensorID,
			Timestamp: ts,
			Seq:       l.nextSeq(node.SensorID),
			Values:    map[string]float64{node.ValueKey: v},
			Tags:      map[string]string{"node_id": node.NodeID},
		}
		if node.Unit != "" {
			o.Tags["unit"] = node.Unit
		}
		out.Append(o)
	}
}

func (l *AmbientListener) nextSeq(sensor string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq[sensor]++
	return l.seq[sensor]
}

func (l *AmbientListener) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(l.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(l.cfg.SecurityPolicy)),
		opcua.ApplicationName(l.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if l.cfg.Username != "" {
		return append(opts, opcua.AuthUsername(l.cfg.Username, l.cfg.Password))
	}
	return append(opts, opcua.AuthAnonymous())
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.Listener = (*AmbientListener)(nil)
