// Command lanchain runs a scenario description through the event-driven
// engine and reports what every flow delivered.
package main

import (
	"fmt"
	"path/filepath"

	"github.com/apex/log"
	"github.com/iti/cmdline"
	"github.com/iti/lanchain"
)

// cmdlineParameters configures for recognition of command line variables
func cmdlineParameters() *cmdline.CmdParser {
	cp := cmdline.NewCmdParser()
	cp.AddFlag(cmdline.StringFlag, "scenario", true)  // yaml or json scenario description
	cp.AddFlag(cmdline.StringFlag, "outdir", false)   // directory receiving the traces
	cp.AddFlag(cmdline.StringFlag, "summary", false)  // name of the trace summary file, .yaml or .json
	cp.AddFlag(cmdline.StringFlag, "saveDesc", false) // write the completed description here
	cp.AddFlag(cmdline.BoolFlag, "verbose", false)
	return cp
}

func main() {
	cp := cmdlineParameters()
	cp.Parse()

	if cp.GetVar("verbose").(bool) {
		log.SetLevel(log.DebugLevel)
	}

	scenarioFile := cp.GetVar("scenario").(string)
	if valid, err := lanchain.CheckReadableFiles([]string{scenarioFile}); !valid {
		log.WithError(err).Fatal("scenario description")
	}

	sd, err := lanchain.ReadScenarioDesc(scenarioFile, lanchain.UseYAML(scenarioFile), []byte{})
	if err != nil {
		log.WithError(err).Fatal("cannot read scenario")
	}

	outDir := cp.GetVar("outdir").(string)
	if len(outDir) > 0 {
		sd.Trace.Dir = outDir
	}
	if summary := cp.GetVar("summary").(string); len(summary) > 0 {
		sd.Trace.Summary = summary
	}
	if err := lanchain.PrepareOutputDir(sd.Trace.Dir); err != nil {
		log.WithError(err).Fatal("output directory")
	}

	sc, err := lanchain.BuildScenario(sd)
	if err != nil {
		log.WithError(err).Fatal("cannot build scenario")
	}

	if saveFile := cp.GetVar("saveDesc").(string); len(saveFile) > 0 {
		if valid, err := lanchain.CheckOutputFiles([]string{saveFile}); !valid {
			log.WithError(err).Fatal("completed description")
		}
		if err := sd.WriteToFile(saveFile); err != nil {
			log.WithError(err).Fatal("cannot save description")
		}
	}

	log.WithFields(log.Fields{
		"scenario":  sc.Name,
		"routers":   len(sc.Routers()),
		"terminals": len(sc.Terminals()),
		"segments":  len(sc.Segments()),
		"flows":     len(sc.Flows()),
	}).Info("scenario built")

	eng := lanchain.NewEvtEngine(sd.Engine)
	result, err := sc.Commit(eng, sd.Trace)
	if err != nil {
		log.WithError(err).Fatal("run failed")
	}

	for _, fr := range result.Flows {
		log.WithFields(log.Fields{
			"flow":     fr.Index,
			"server":   fmt.Sprintf("%s:%d", fr.Server, fr.Port),
			"sent":     fr.Sent,
			"received": fr.Received,
			"lost":     fr.Lost,
			"delay":    fmt.Sprintf("mean %.6fs median %.6fs max %.6fs", fr.MeanDelay, fr.MedianDelay, fr.MaxDelay),
		}).Info("flow report")
	}
	for _, trc := range result.TraceFiles {
		log.WithField("file", filepath.Clean(trc)).Debug("trace written")
	}
	log.WithField("dropped", eng.Dropped()).Info("done")
}
