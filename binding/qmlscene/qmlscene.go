// qmlscene runs a QML scene in-process with a qtbind connection to it.
//
// It combines https://github.com/special/qgoscene with a qtbind Connection.
// The scene links to Qt directly; the generated wrappers inside it reach the
// Go side over a pair of pipes passed on the command line as
// "-qtbind fd:<read>,<write>".
//
// In simple cases, an application can execute with:
//
//	reg := qtbind.NewRegistry()
//	// ... define classes ...
//	qmlscene.Connection(qtbind.NewBridge(reg))
//	qmlscene.ExecScene("main.qml")
package qmlscene

import (
	"fmt"
	"os"

	qtbind "github.com/CrimsonAS/qtbind/binding"
	"github.com/special/qgoscene"
	"go.uber.org/zap"
)

// Only one scene and connection exist per process.
var state struct {
	conn  *qtbind.Connection
	scene *qgoscene.Scene
	// Pipe ends handed to the scene: it reads host requests from toScene and
	// writes replies to fromScene.
	toScene, fromScene *os.File
}

// Connection returns the scene's connection, creating it for b on the first
// call. Later calls ignore b.
func Connection(b *qtbind.Bridge) *qtbind.Connection {
	if state.conn != nil {
		return state.conn
	}
	sceneIn, goOut, err := os.Pipe()
	if err != nil {
		qtbind.Logger().Fatal("cannot create scene pipe", zap.Error(err))
	}
	goIn, sceneOut, err := os.Pipe()
	if err != nil {
		qtbind.Logger().Fatal("cannot create scene pipe", zap.Error(err))
	}
	state.toScene, state.fromScene = sceneIn, sceneOut
	state.conn = qtbind.NewConnectionSplit(b, goIn, goOut)
	return state.conn
}

func Scene() *qgoscene.Scene {
	return state.scene
}

// LoadScene creates the scene from a QML file. It panics if a scene already
// exists or Connection has not been called.
func LoadScene(qmlRootFile string) *qgoscene.Scene {
	return load(func(args []string) *qgoscene.Scene {
		return qgoscene.NewScene(qmlRootFile, args)
	})
}

// LoadSceneData is LoadScene for inline QML.
func LoadSceneData(qmlString string) *qgoscene.Scene {
	return load(func(args []string) *qgoscene.Scene {
		return qgoscene.NewSceneData(qmlString, args)
	})
}

func load(create func(args []string) *qgoscene.Scene) *qgoscene.Scene {
	switch {
	case state.scene != nil:
		panic("qmlscene: only one scene per process")
	case state.conn == nil:
		panic("qmlscene: scene loaded before Connection")
	}
	args := append(os.Args[:len(os.Args):len(os.Args)],
		"-qtbind", fmt.Sprintf("fd:%d,%d", state.toScene.Fd(), state.fromScene.Fd()))
	state.scene = create(args)
	return state.scene
}

// Exec runs the scene's event loop and exits the process with its status.
func Exec() {
	if state.scene == nil {
		panic("qmlscene: Exec without a loaded scene")
	}
	if !state.conn.Started() {
		go func() {
			if err := state.conn.Run(); err != nil {
				qtbind.Logger().Error("scene connection closed", zap.Error(err))
			}
		}()
	}
	os.Exit(state.scene.Exec())
}

func ExecScene(qmlRootFile string) {
	LoadScene(qmlRootFile)
	Exec()
}

func ExecSceneData(qmlString string) {
	LoadSceneData(qmlString)
	Exec()
}
