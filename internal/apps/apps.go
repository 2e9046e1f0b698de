// Package apps implements the daemon's container supervisor contract
// (SPEC_FULL.md §4.8): deploy_image, self_deploy_image, list_containers and
// stop_container against the Docker Engine API, with local/peer scoping and
// a persistent-app restart registry backed by internal/kv.
//
// The Supervisor itself only ever talks to the local Docker daemon; peer
// scoping is layered on top by PeerDelegate, which answers or issues the two
// reserved req-resp topics a "peer" argument routes through. This mirrors
// contracts/swap/swap.go's shape: a thin Go interface in front of an
// external system (there a smart contract, here a container engine), wired
// here directly to the concrete *client.Client rather than behind its own
// interface since hyveosd only ever talks to one engine.
package apps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/p2p-industries/hyveos-sub001/internal/hyveerr"
	"github.com/p2p-industries/hyveos-sub001/internal/hyveid"
	"github.com/p2p-industries/hyveos-sub001/internal/hyvelog"
	"github.com/p2p-industries/hyveos-sub001/internal/kv"
	"github.com/p2p-industries/hyveos-sub001/internal/overlay"
)

const (
	labelManaged = "hyveos.managed"
	labelULID    = "hyveos.ulid"
	labelImage   = "hyveos.image"
)

// Reserved req-resp topics a "peer" argument delegates list_containers and
// stop_container to (SPEC_FULL.md §4.8). deploy_image has no reserved topic
// and is not delegated.
const (
	TopicList = "app/hyveos/apps/list"
	TopicStop = "app/hyveos/apps/stop"
)

// RunningApp is one container the supervisor manages, as reported back to
// callers of list_containers and deploy_image.
type RunningApp struct {
	ULID       string `json:"ulid"`
	Image      string `json:"image"`
	Name       string `json:"name,omitempty"`
	Ports      []int  `json:"ports,omitempty"`
	Persistent bool   `json:"persistent"`
}

// DeployRequest is the argument set shared by deploy_image and
// self_deploy_image.
type DeployRequest struct {
	Image      string
	Name       string
	Ports      []int
	Persistent bool
}

// Supervisor wraps a Docker Engine API client and the startup_apps registry.
// Every method here always targets the local daemon; peer scoping is the
// caller's concern (see PeerDelegate).
type Supervisor struct {
	docker *client.Client
	reg    kv.StartupApps
	ulids  *hyveid.ULIDSource
	log    hyvelog.Logger
}

func NewSupervisor(docker *client.Client, reg kv.StartupApps) *Supervisor {
	return &Supervisor{
		docker: docker,
		reg:    reg,
		ulids:  hyveid.NewULIDSource(),
		log:    hyvelog.New("component", "apps"),
	}
}

// DeployImage pulls (if needed), creates and starts a container, recording a
// RunningApp and, if req.Persistent, registering it in the startup_apps
// table for restart-time re-deploy.
func (s *Supervisor) DeployImage(ctx context.Context, req DeployRequest) (RunningApp, error) {
	if req.Image == "" {
		return RunningApp{}, hyveerr.New(hyveerr.InvalidArgument, "apps.deploy_image", fmt.Errorf("image must not be empty"))
	}
	if err := s.pullIfNeeded(ctx, req.Image); err != nil {
		return RunningApp{}, err
	}

	id := s.ulids.Next().String()
	exposed, bindings := portBindings(req.Ports)

	cfg := &container.Config{
		Image: req.Image,
		Labels: map[string]string{
			labelManaged: "true",
			labelULID:    id,
			labelImage:   req.Image,
		},
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{PortBindings: bindings}

	created, err := s.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, req.Name)
	if err != nil {
		return RunningApp{}, hyveerr.New(hyveerr.Internal, "apps.deploy_image", err)
	}
	if err := s.docker.ContainerStart(ctx, created.ID, types.ContainerStartOptions{}); err != nil {
		return RunningApp{}, hyveerr.New(hyveerr.Internal, "apps.deploy_image", err)
	}

	if req.Persistent {
		if err := s.reg.Put(kv.StartupApp{Image: req.Image, Ports: req.Ports}); err != nil {
			s.log.Error("failed to persist startup app", "image", req.Image, "err", err)
		}
	}

	return RunningApp{
		ULID:       id,
		Image:      req.Image,
		Name:       req.Name,
		Ports:      req.Ports,
		Persistent: req.Persistent,
	}, nil
}

// SelfDeployImage is deploy_image with peer delegation always skipped.
func (s *Supervisor) SelfDeployImage(ctx context.Context, req DeployRequest) (RunningApp, error) {
	return s.DeployImage(ctx, req)
}

// ListContainers lists daemon-managed containers (labelManaged=true).
func (s *Supervisor) ListContainers(ctx context.Context) ([]RunningApp, error) {
	f := filters.NewArgs(filters.Arg("label", labelManaged+"=true"))
	containers, err := s.docker.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: f})
	if err != nil {
		return nil, hyveerr.New(hyveerr.Internal, "apps.list_containers", err)
	}

	apps := make([]RunningApp, 0, len(containers))
	for _, c := range containers {
		apps = append(apps, RunningApp{
			ULID:  c.Labels[labelULID],
			Image: c.Labels[labelImage],
			Name:  strings.TrimPrefix(firstOrEmpty(c.Names), "/"),
			Ports: portsFromContainer(c.Ports),
		})
	}
	return apps, nil
}

// StopContainer stops and removes the managed container with the given
// instance ULID.
func (s *Supervisor) StopContainer(ctx context.Context, ulidStr string) error {
	id, err := s.containerIDForULID(ctx, ulidStr)
	if err != nil {
		return err
	}
	timeout := 10
	if err := s.docker.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return hyveerr.New(hyveerr.Internal, "apps.stop_container", err)
	}
	if err := s.docker.ContainerRemove(ctx, id, types.ContainerRemoveOptions{}); err != nil {
		return hyveerr.New(hyveerr.Internal, "apps.stop_container", err)
	}
	return nil
}

// RestoreStartupApps re-deploys every registered startup app. Callers run
// this once at daemon start, before the bridge begins accepting connections
// (SPEC_FULL.md §4.8).
func (s *Supervisor) RestoreStartupApps(ctx context.Context) error {
	list, err := s.reg.List()
	if err != nil {
		return err
	}
	for _, app := range list {
		if _, err := s.DeployImage(ctx, DeployRequest{Image: app.Image, Ports: app.Ports, Persistent: true}); err != nil {
			s.log.Error("failed to redeploy startup app", "image", app.Image, "err", err)
		}
	}
	return nil
}

func (s *Supervisor) containerIDForULID(ctx context.Context, ulidStr string) (string, error) {
	f := filters.NewArgs(filters.Arg("label", labelULID+"="+ulidStr))
	containers, err := s.docker.ContainerList(ctx, types.ContainerListOptions{All: true, Filters: f})
	if err != nil {
		return "", hyveerr.New(hyveerr.Internal, "apps.stop_container", err)
	}
	if len(containers) == 0 {
		return "", hyveerr.Newf(hyveerr.InvalidArgument, "apps.stop_container", "no managed container with ulid %s", ulidStr)
	}
	return containers[0].ID, nil
}

func (s *Supervisor) pullIfNeeded(ctx context.Context, image string) error {
	if _, _, err := s.docker.ImageInspectWithRaw(ctx, image); err == nil {
		return nil
	}
	rc, err := s.docker.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return hyveerr.New(hyveerr.Transient, "apps.deploy_image", err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return hyveerr.New(hyveerr.Transient, "apps.deploy_image", err)
	}
	return nil
}

func portBindings(ports []int) (nat.PortSet, nat.PortMap) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		port := nat.Port(fmt.Sprintf("%d/tcp", p))
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", p)}}
	}
	return exposed, bindings
}

func portsFromContainer(ports []types.Port) []int {
	seen := make(map[int]struct{}, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort == 0 {
			continue
		}
		port := int(p.PublicPort)
		if _, ok := seen[port]; ok {
			continue
		}
		seen[port] = struct{}{}
		out = append(out, port)
	}
	return out
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// PeerDelegate answers req-resp requests on the reserved apps topics on
// behalf of a local Supervisor, and issues those same requests to a remote
// peer when a caller supplies a peer argument. Grounded on pushsync/pusher.go's
// shape of delegating one logical operation to whichever peer owns it over
// the overlay, substituting req-resp for pushsync's forwarding protocol.
type PeerDelegate struct {
	sup    *Supervisor
	reqres *overlay.ReqRes
}

func NewPeerDelegate(sup *Supervisor, reqres *overlay.ReqRes) *PeerDelegate {
	return &PeerDelegate{sup: sup, reqres: reqres}
}

type stopRequest struct {
	ULID string `json:"ulid"`
}

// HandleIncoming answers one IncomingRequest addressed to TopicList or
// TopicStop. Callers dispatch to this from the overlay's shared Incoming()
// channel after filtering by topic.
func (d *PeerDelegate) HandleIncoming(ctx context.Context, req overlay.IncomingRequest) {
	switch req.Topic {
	case TopicList:
		apps, err := d.sup.ListContainers(ctx)
		d.respond(req.RequestID, apps, err)
	case TopicStop:
		var in stopRequest
		if err := json.Unmarshal(req.Data, &in); err != nil {
			d.respondErr(req.RequestID, hyveerr.New(hyveerr.InvalidArgument, "apps.stop_container", err))
			return
		}
		err := d.sup.StopContainer(ctx, in.ULID)
		d.respond(req.RequestID, struct{}{}, err)
	default:
		d.respondErr(req.RequestID, hyveerr.Newf(hyveerr.InvalidArgument, "apps", "unknown topic %q", req.Topic))
	}
}

func (d *PeerDelegate) respond(id uint64, v interface{}, err error) {
	if err != nil {
		d.respondErr(id, err)
		return
	}
	b, merr := json.Marshal(v)
	if merr != nil {
		d.respondErr(id, merr)
		return
	}
	_ = d.reqres.SendResponse(id, b)
}

func (d *PeerDelegate) respondErr(id uint64, err error) {
	b, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	_ = d.reqres.SendResponse(id, b)
}

// ListRemote delegates list_containers to peer via req-resp.
func (d *PeerDelegate) ListRemote(ctx context.Context, peer hyveid.PeerId) ([]RunningApp, error) {
	resp, err := d.reqres.SendRequest(ctx, peer, TopicList, nil)
	if err != nil {
		return nil, err
	}
	var apps []RunningApp
	if err := json.Unmarshal(resp, &apps); err != nil {
		return nil, hyveerr.New(hyveerr.Integrity, "apps.list_containers", err)
	}
	return apps, nil
}

// StopRemote delegates stop_container to peer via req-resp.
func (d *PeerDelegate) StopRemote(ctx context.Context, peer hyveid.PeerId, ulidStr string) error {
	payload, err := json.Marshal(stopRequest{ULID: ulidStr})
	if err != nil {
		return hyveerr.New(hyveerr.Internal, "apps.stop_container", err)
	}
	_, err = d.reqres.SendRequest(ctx, peer, TopicStop, payload)
	return err
}
