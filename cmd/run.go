/*
Copyright © 2024 thin-edge.io <info@thin-edge.io>
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	c8y "github.com/reubenmiller/go-c8y/pkg/c8y"
	"github.com/spf13/cobra"

	"github.com/thin-edge/tedge-mapper/internal/actorkit"
	"github.com/thin-edge/tedge-mapper/internal/cloudconv"
	"github.com/thin-edge/tedge-mapper/internal/entitystore"
	"github.com/thin-edge/tedge-mapper/internal/httpproxy"
	"github.com/thin-edge/tedge-mapper/internal/mapperrun"
	"github.com/thin-edge/tedge-mapper/internal/mqttclient"
	"github.com/thin-edge/tedge-mapper/internal/topic"
)

// jwtTimeout bounds how long a JWT request over "c8y/s/uat" waits for the
// broker's "c8y/s/dat" reply.
const jwtTimeout = 10 * time.Second

// newJwtFetcher builds a httpproxy.JwtFetcher that round-trips a SmartREST
// JWT request over the local broker, grounded on the "c8y/s/uat" ->
// "c8y/s/dat" token exchange thin-edge's own c8y proxy performs.
func newJwtFetcher(client mqtt.Client) httpproxy.JwtFetcher {
	return func(ctx context.Context) (string, error) {
		replies := make(chan string, 1)
		tok := client.Subscribe("c8y/s/dat", 1, func(_ mqtt.Client, m mqtt.Message) {
			select {
			case replies <- string(m.Payload()):
			default:
			}
		})
		if !tok.WaitTimeout(jwtTimeout) || tok.Error() != nil {
			return "", fmt.Errorf("subscribing to c8y/s/dat: %w", tok.Error())
		}
		defer client.Unsubscribe("c8y/s/dat")

		if pubTok := client.Publish("c8y/s/uat", 1, false, []byte{}); !pubTok.WaitTimeout(jwtTimeout) || pubTok.Error() != nil {
			return "", fmt.Errorf("publishing c8y/s/uat: %w", pubTok.Error())
		}

		select {
		case reply := <-replies:
			return reply, nil
		case <-time.After(jwtTimeout):
			return "", fmt.Errorf("timed out waiting for c8y/s/dat reply")
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// pahoTransport adapts an eclipse/paho.mqtt.golang client to the
// mapperrun.Publisher interface the runtime expects.
type pahoTransport struct {
	client mqtt.Client
}

func (t *pahoTransport) Publish(ctx context.Context, topicName string, payload []byte, retain bool) error {
	tok := t.client.Publish(topicName, 1, retain, payload)
	if !tok.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("pahoTransport: publish to %q timed out", topicName)
	}
	return tok.Error()
}

func (t *pahoTransport) Subscribe(ctx context.Context, filters []string) (<-chan mapperrun.MqttMessage, error) {
	out := make(chan mapperrun.MqttMessage, 64)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case out <- mapperrun.MqttMessage{Topic: msg.Topic(), Payload: msg.Payload(), Retain: msg.Retained()}:
		case <-ctx.Done():
		}
	}
	subs := make(map[string]byte, len(filters))
	for _, f := range filters {
		subs[f] = 1
	}
	tok := t.client.SubscribeMultiple(subs, func(c mqtt.Client, m mqtt.Message) { handler(c, m) })
	if !tok.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("pahoTransport: subscribe timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func runCloudMapper(cloudName string, makeConverter func(*entitystore.Store) cloudconv.Converter, withProxy bool) error {
	cliCfg.OnInit()
	host := cliCfg.GetMQTTHost()
	port := cliCfg.GetMQTTPort()
	rootPrefix := cliCfg.GetTopicRoot()
	mainID, err := topic.ParseEntityID(cliCfg.GetDeviceTopicID())
	if err != nil {
		mainID = topic.DefaultMainDevice()
	}

	serviceName := fmt.Sprintf("%s-mapper-%s", cliCfg.GetServiceName(), cloudName)
	target := topic.Target{RootPrefix: rootPrefix, Entity: topic.DefaultMainService(serviceName)}

	store := entitystore.New(mainID, "service", entitystore.DefaultExternalIDMapper(mainID.Name), nil)

	opts := mqttclient.DefaultConnectOptions()
	opts.Host = host
	opts.Port = port
	opts.LastWillMessage = &mqttclient.LastWill{Topic: target.HealthTopic(), Payload: []byte(`{"status":"down"}`), QoS: 1, Retain: true}

	client := mqtt.NewClient(mqttclient.NewClientOptions(opts))
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("connecting to local broker: %w", tok.Error())
	}
	defer client.Disconnect(250)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &pahoTransport{client: client}
	mapper := mapperrun.NewMapper(serviceName, store, makeConverter(store), transport, slog.Default())

	supervisor := actorkit.NewSupervisor(ctx, slog.Default())

	if withProxy {
		proxy, err := newCumulocityProxy(store, mainID, client)
		if err != nil {
			return fmt.Errorf("building cumulocity http proxy: %w", err)
		}
		mapper.Proxy = proxy
		supervisor.Spawn(proxyInitActor{proxy: proxy})
	}

	supervisor.Spawn(mapperActor{mapper: mapper})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("shutting down", "mapper", cloudName)
		supervisor.Shutdown()
	}()

	return supervisor.Wait()
}

type mapperActor struct {
	mapper *mapperrun.Mapper
}

func (a mapperActor) Name() string { return a.mapper.Name }
func (a mapperActor) Run(ctx context.Context) error { return a.mapper.Run(ctx) }

// proxyInitActor resolves the main device's Cumulocity internal id. It runs
// alongside the mapper actor, which does not wait for it; it exits once
// resolution succeeds, or when ctx is cancelled.
type proxyInitActor struct {
	proxy *httpproxy.Proxy
}

func (a proxyInitActor) Name() string { return "c8y-http-proxy-init" }

func (a proxyInitActor) Run(ctx context.Context) error {
	shutdown := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(shutdown)
	}()
	if err := a.proxy.Init(ctx, shutdown); err != nil && err != httpproxy.ErrInterrupted {
		return err
	}
	return nil
}

// newCumulocityProxy builds the authenticated HTTP proxy used to carry twin
// updates through to Cumulocity's REST API (spec §4.G), reusing the teacher's own c8y.NewClient(host, port) ->
// "http://host:port/c8y" construction for the Identity client.
func newCumulocityProxy(store *entitystore.Store, mainID topic.EntityID, client mqtt.Client) (*httpproxy.Proxy, error) {
	meta, ok := store.Get(mainID)
	if !ok {
		return nil, fmt.Errorf("main device %s not registered in entity store", mainID)
	}
	c8yURL := fmt.Sprintf("http://%s:%d/c8y", cliCfg.GetCumulocityHost(), cliCfg.GetCumulocityPort())
	identity := c8y.NewClient(nil, c8yURL, "", "", "", true)

	endpoint := httpproxy.NewEndPoint(cliCfg.GetCumulocityHost(), string(meta.ExternalID))
	proxy := httpproxy.New(endpoint, newJwtFetcher(client), identity, slog.Default())
	return proxy, nil
}

var c8yCmd = &cobra.Command{
	Use:   "c8y",
	Short: "Run the Cumulocity mapper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCloudMapper("c8y", func(store *entitystore.Store) cloudconv.Converter {
			return cloudconv.NewC8yConverter(true, cloudconv.SystemClock{})
		}, true)
	},
}

var azCmd = &cobra.Command{
	Use:   "az",
	Short: "Run the Azure IoT mapper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCloudMapper("az", func(store *entitystore.Store) cloudconv.Converter {
			return cloudconv.NewAzureConverter(true, cloudconv.SystemClock{})
		}, false)
	},
}

var awsCmd = &cobra.Command{
	Use:   "aws",
	Short: "Run the AWS IoT mapper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCloudMapper("aws", func(store *entitystore.Store) cloudconv.Converter {
			return cloudconv.NewAwsConverter(true, cloudconv.SystemClock{})
		}, false)
	},
}

func init() {
	rootCmd.AddCommand(c8yCmd, azCmd, awsCmd)
}
