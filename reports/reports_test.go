package reports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schedulePage = `<html><body>
<table><tr><th id="tdDia_2">Segunda</th><th id="tdDia_3">Terça</th></tr></table>
<ul id="dvDia_2" data-role="listview">
  <li><a href="/EducaMobile/Educacional/EduAluno/EduQuadroHorarioAlunoDetalhe/2922575">
    <div class="ui-block-a">07:30<br>09:10</div>
    <h2>ANATOMIA HUMANA I</h2>
    <p><strong>Turma:</strong> M80D626.1</p>
    <p><strong>Subturma:</strong> A</p>
    <p><strong>Data inicial:</strong> 02/02/2026</p>
    <p><strong>Data final:</strong> 30/06/2026</p>
    <p><strong>Prédio:</strong> Sede&nbsp;Central</p>
    <p><strong>Sala:</strong> 101</p>
    <p>sem rótulo</p>
  </a></li>
</ul>
<ul id="dvDia_3" data-role="listview"><li><a href="#">Nenhum registro encontrado</a></li></ul>
</body></html>`

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule(schedulePage)
	require.NoError(t, err)
	require.Len(t, s.Classes, 1)

	c := s.Classes[0]
	assert.Equal(t, 2, c.Weekday)
	assert.Equal(t, "Segunda", c.Day)
	assert.Equal(t, "07:30", c.Start)
	assert.Equal(t, "09:10", c.End)
	assert.Equal(t, "ANATOMIA HUMANA I", c.Subject)
	assert.Equal(t, "M80D626.1", c.Group)
	assert.Equal(t, "A", c.Subgroup)
	assert.Equal(t, "2026-02-02", c.StartDateISO)
	assert.Equal(t, "2026-06-30", c.EndDateISO)
	assert.Equal(t, "Sede Central", c.Building)
	assert.Equal(t, "101", c.Room)
	assert.Equal(t, "2922575", c.DetailID)
	assert.Equal(t, "/EducaMobile/Educacional/EduAluno/EduQuadroHorarioAlunoDetalhe/2922575", c.DetailPath)
}

func TestParseScheduleEmpty(t *testing.T) {
	_, err := ParseSchedule(`<ul id="dvDia_2"><li><a>Nenhum registro encontrado</a></li></ul>`)
	assert.ErrorIs(t, err, ErrEmptyReport)

	_, err = ParseSchedule("")
	assert.ErrorIs(t, err, ErrEmptyReport)
}

const attendancePage = `<html><body>
<div data-role="collapsible"><h2>Avisos gerais</h2><ul><li class="no-margin"><h3>1-2-3 | Ignorar</h3></li></ul></div>
<div data-role="collapsible">
<h2>Aviso de frequ&#234;ncia</h2>
<ul data-role="listview">
  <li class="no-margin">
    <h3><span>83-057-1 | ANATOMIA HUMANA I</span></h3>
    <p>Turma: M80D626.1</p>
    <p>Situa&#231;&#227;o: Matriculado</p>
    <p class="x">Limite de faltas: 18</p>
    <span class="ui-li-count" style="color:#1e84bf">12,5%</span>
  </li>
  <li class="no-margin">
    <h3>83-058-1 | BIOQUÍMICA</h3>
    <span class="ui-li-count">3%</span>
  </li>
  <li class="no-margin"><h3>sem código</h3></li>
  <li class="no-margin">
    <h3>83-059-1 | FISIOLOGIA</h3>
    <span class="ui-li-count" style="color: #d9534f">30%</span>
  </li>
</ul></div></body></html>`

func TestParseAttendance(t *testing.T) {
	a, err := ParseAttendance(attendancePage)
	require.NoError(t, err)
	require.Len(t, a.Items, 3)

	first := a.Items[0]
	assert.Equal(t, "83-057-1", first.Code)
	assert.Equal(t, "ANATOMIA HUMANA I", first.Subject)
	assert.Equal(t, "M80D626.1", first.Group)
	assert.Equal(t, "Matriculado", first.Situation)
	assert.Equal(t, "18", first.AbsenceLimit)
	assert.Equal(t, "12,5%", first.Percentage)
	assert.InDelta(t, 12.5, first.PercentageValue, 0.001)
	assert.Equal(t, AttendanceNear, first.Status)

	assert.Equal(t, AttendanceBelow, a.Items[1].Status)
	assert.Equal(t, "BIOQUÍMICA", a.Items[1].Subject)
	assert.Equal(t, AttendanceAbove, a.Items[2].Status)
}

func TestParseAttendanceNoNotice(t *testing.T) {
	a, err := ParseAttendance(`<html><body><h2>Avisos</h2></body></html>`)
	require.NoError(t, err)
	assert.Empty(t, a.Items)
}

const gradesPage = `<html><body><form>
<select id="ddlTurmaDisc" name="ddlTurmaDisc">
  <option value="-1">Selecione uma op&#231;&#227;o</option>
  <option value="12345">1-83-057-ANATOMIA HUMANA I</option>
  <option value="12346">2-83-058-1-PR&#193;TICA M&#201;DICA</option>
  <option value="12347">ÉTICA</option>
</select></form></body></html>`

func TestParseGrades(t *testing.T) {
	g, err := ParseGrades(gradesPage)
	require.NoError(t, err)
	assert.Equal(t, []Discipline{
		{Code: "12345", Name: "ANATOMIA HUMANA I"},
		{Code: "12346", Name: "PRÁTICA MÉDICA"},
		{Code: "12347", Name: "ÉTICA"},
	}, g.Disciplines)
}

func TestParseGradesEmpty(t *testing.T) {
	_, err := ParseGrades(`<select id="ddlTurmaDisc"><option value="-1">Selecione</option></select>`)
	assert.ErrorIs(t, err, ErrEmptyReport)

	_, err = ParseGrades(`<html><body>Login</body></html>`)
	assert.ErrorIs(t, err, ErrEmptyReport)
}

const historyPage = `<html><body>
<ul data-role="listview" data-divider-theme="b">
  <li data-role="list-divider">1º Período</li>
  <li data-icon="false">
    <h2><img src="/img/img_concluida.PNG"/>ANATOMIA HUMANA I</h2>
    <p><b>C&#243;d. disciplina:</b> 83-057 <b>Cr&#233;ditos:</b> 8 <b>C.H.:</b> 160
       <b>C.H. Integralizada:</b> 160 <b>Situa&#231;&#227;o: </b> Aprovado (20251)
       <b>&nbsp;Nota:</b> 85 <b>&nbsp;Faltas:</b> 4</p>
  </li>
  <li data-icon="false"><b>Total CH integralizada: 400</b></li>
  <li data-role="list-divider">2º Período</li>
  <li data-icon="false">
    <h2><img src="/img/img_pendente.PNG"/>FISIOLOGIA</h2>
    <p><b>C&#243;d. disciplina:</b> 83-070 <b>Conceito:</b> -</p>
  </li>
  <li data-icon="false">
    <h2><img src="/img/equivalente.gif"/>BIOLOGIA</h2>
    <p><b>C&#243;d. disciplina:</b> 83-071</p>
  </li>
</ul></body></html>`

func TestParseHistory(t *testing.T) {
	h, err := ParseHistory(historyPage)
	require.NoError(t, err)
	require.Len(t, h.Periods, 2)

	first := h.Periods[0]
	assert.Equal(t, "1º Período", first.Name)
	assert.Equal(t, "400", first.TotalWorkload)
	require.Len(t, first.Subjects, 1)
	s := first.Subjects[0]
	assert.Equal(t, "ANATOMIA HUMANA I", s.Name)
	assert.Equal(t, SubjectCompleted, s.Status)
	assert.Equal(t, "83-057", s.Code)
	assert.Equal(t, "8", s.Credits)
	assert.Equal(t, "160", s.Workload)
	assert.Equal(t, "160", s.CompletedWorkload)
	assert.Equal(t, "Aprovado", s.Situation)
	assert.Equal(t, "20251", s.Term)
	assert.Equal(t, "85", s.Grade)
	assert.Equal(t, "4", s.Absences)

	second := h.Periods[1]
	require.Len(t, second.Subjects, 2)
	assert.Equal(t, SubjectPending, second.Subjects[0].Status)
	assert.Equal(t, "-", second.Subjects[0].Concept)
	assert.Equal(t, SubjectEquivalent, second.Subjects[1].Status)
}

func TestParseHistoryEmpty(t *testing.T) {
	_, err := ParseHistory(`<ul data-divider-theme="b"></ul>`)
	assert.ErrorIs(t, err, ErrEmptyReport)
}

func TestIsoDate(t *testing.T) {
	assert.Equal(t, "2026-02-02", isoDate(" 02/02/2026 "))
	assert.Equal(t, "", isoDate("2026-02-02"))
	assert.Equal(t, "", isoDate(""))
}
