// Package qmlscene runs a QML frontend in process for a backend connection.
//
// qmlscene combines https://github.com/special/qgoscene with the backend
// package. qgoscene is a very simple API to run QML in a Go process; it
// links to Qt directly.
//
// In simple cases, an application can execute with:
//
//     s, err := qmlscene.New()
//     s.Connection().RootObject = backend.NewInspector(eng)
//     s.LoadData(mainQML)
//     os.Exit(s.Exec(s.Connection().Run))
package qmlscene

import (
	"errors"
	"fmt"
	"os"

	"github.com/special/qgoscene"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/CrimsonAS/signalgraph/backend"
)

var log = commonlog.GetLogger("signalgraph.qmlscene")

// Scene is one QML scene and the backend connection it talks to. The scene
// reaches the connection through a pair of pipes passed with -qbackend.
type Scene struct {
	connection *backend.Connection
	scene      *qgoscene.Scene

	// backend reads rF and writes wB; the frontend reads rB and writes wF
	rB, wB, rF, wF *os.File
}

func New() (*Scene, error) {
	rB, wB, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	rF, wF, err := os.Pipe()
	if err != nil {
		rB.Close()
		wB.Close()
		return nil, err
	}
	return &Scene{
		connection: backend.NewConnectionSplit(rF, wB),
		rB:         rB,
		wB:         wB,
		rF:         rF,
		wF:         wF,
	}, nil
}

func (s *Scene) Connection() *backend.Connection {
	return s.connection
}

func (s *Scene) args() []string {
	return append(os.Args, "-qbackend", fmt.Sprintf("fd:%d,%d", s.rB.Fd(), s.wF.Fd()))
}

// Load creates the scene from a QML file.
func (s *Scene) Load(qmlRootFile string) error {
	if s.scene != nil {
		return errors.New("qmlscene does not support multiple scenes")
	}
	s.scene = qgoscene.NewScene(qmlRootFile, s.args())
	return nil
}

// LoadData creates the scene from QML source.
func (s *Scene) LoadData(qml string) error {
	if s.scene != nil {
		return errors.New("qmlscene does not support multiple scenes")
	}
	s.scene = qgoscene.NewSceneData(qml, s.args())
	return nil
}

// Exec runs the scene until it is closed, with run serving the connection
// alongside it. Qt must own the calling goroutine, so run is started on
// its own, and is expected to return once the frontend's pipes close.
// Exec returns the scene's exit code.
func (s *Scene) Exec(run func() error) int {
	if s.scene == nil {
		log.Error("qmlscene executed without a scene loaded")
		return 1
	}

	var g errgroup.Group
	g.Go(run)
	code := s.scene.Exec()

	// The frontend is gone; close its ends so the connection ends too
	s.wF.Close()
	s.rB.Close()
	if err := g.Wait(); err != nil {
		log.Debugf("connection ended: %s", err)
	}
	return code
}
