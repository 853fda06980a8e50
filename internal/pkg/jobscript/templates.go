package jobscript

// gridJobTemplate is the worker entry point. It unpacks ToolAnalysis, runs
// the container job inside the ANNIE image, and moves the processed files
// into the output sandbox.
const gridJobTemplate = `#!/bin/bash
# {{.JobName}}: run {{.Run}} p{{.First}}-{{.Last}} submitted by {{.User}}

set -x

echo "@@@ Host: $HOSTNAME"
echo "@@@ Start: $(date)"

DUMMY_OUTPUT_FILE=${CONDOR_DIR_OUTPUT}/${JOBSUBJOBID}_dummy_output
touch ${DUMMY_OUTPUT_FILE}

cd ${CONDOR_DIR_INPUT}
tar -xzf {{.TarballName}}

# the container only sees /srv, so stage inputs there
cp -r ${CONDOR_DIR_INPUT}/* /srv/

singularity exec -B/srv:/srv /cvmfs/singularity.opensciencegrid.org/anniesoft/toolanalysis\:latest/ /srv/run_container_job.sh

echo "@@@ Processed files:"
ls -v /srv/{{.ToolAnalysisName}}/ProcessedData_*

mv /srv/{{.ToolAnalysisName}}/ProcessedData_* ${CONDOR_DIR_OUTPUT}/
mv /srv/{{.ToolAnalysisName}}/log_{{.JobName}}.txt ${CONDOR_DIR_OUTPUT}/ 2>/dev/null

rm ${DUMMY_OUTPUT_FILE}

echo "@@@ End: $(date)"
exit 0
`

// containerJobTemplate runs inside the container. The trigger overlap
// toolchain and the decoder share my_files.txt, so the neighbour parts are
// decoded too and their processed output is removed afterwards.
const containerJobTemplate = `#!/bin/bash
# {{.JobName}}: container job for run {{.Run}} p{{.First}}-{{.Last}}

RUN={{.Run}}
PART_FIRST={{.First}}
PART_LAST={{.Last}}
FETCH_FIRST={{.FetchFirst}}
FETCH_LAST={{.FetchLast}}
NEEDS_BEFORE={{if .NeedsBefore}}1{{else}}0{{end}}
NEEDS_AFTER={{if .NeedsAfter}}1{{else}}0{{end}}

cd /srv/{{.ToolAnalysisName}}

# raw files in part order, including neighbours
cat > my_files.txt <<'EOF'
{{- range .WorkerFiles}}
{{.}}
{{- end}}
EOF
cp /srv/${RUN}{{.BeamDBSuffix}} .

LOG=log_{{.JobName}}.txt
echo "run ${RUN} p${PART_FIRST}-${PART_LAST} (fetched p${FETCH_FIRST}-${FETCH_LAST})" > ${LOG}

./Analyse configfiles/PreProcessTrigOverlap/ToolChainConfig >> ${LOG} 2>&1
./Analyse configfiles/DataDecoder/ToolChainConfig >> ${LOG} 2>&1
{{range .Overlap}}
rm -f {{.}}
{{- end}}

exit 0
`

// submitTemplate hands the job to the scheduler. Scripts are resolved
// relative to the directory the submission script was staged in.
const submitTemplate = `#!/bin/bash
# {{.JobName}}: submit run {{.Run}} p{{.First}}-{{.Last}}

SCRIPT_DIR=$(cd "$(dirname "$0")" && pwd)

OUTPUT_FOLDER={{.OutputFolder}}
mkdir -p ${OUTPUT_FOLDER}

{{.SchedulerCommand}} --memory={{.Memory}} --expected-lifetime={{.Lifetime}} -G {{.Group}} --disk={{.Disk}} \
  --resource-provides=usage_model=OFFSITE,DEDICATED,OPPORTUNISTIC \
  -f ${SCRIPT_DIR}/run_container_job.sh \
  -f {{.Tarball}} \
  -f {{.BeamDBFile .Run}} \
{{- range .RawFiles}}
  -f {{.}} \
{{- end}}
  -d OUTPUT ${OUTPUT_FOLDER} \
  file://${SCRIPT_DIR}/grid_job.sh {{.JobName}}
`
