package reports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const classDetailPage = `<html><body>
<div class="display-label">Hor&#225;rio</div><div class="display-field">07:30 - 09:10</div>
<div class="display-label">C&#243;d. disciplina</div>
<div class="display-field">83-057</div>
<div class="display-label">Nome disciplina</div><div class="display-field">ANATOMIA&nbsp;HUMANA I</div>
<div class="display-label">Turma</div><div class="display-field">M80D626.1</div>
<div class="display-label">Subturma</div><div class="display-field">A</div>
<div class="display-label">Data inicial</div><div class="display-field">02/02/2026</div>
<fieldset><legend>Professor(es)</legend>
  <ul data-role="listview"><li>Maria Silva</li><li>  Jo&#227;o   Souza </li><li> </li></ul>
</fieldset>
<fieldset><legend>Localiza&#231;&#227;o</legend>
  <div class="display-label">Pr&#233;dio</div><div class="display-field">Sede</div>
  <div class="display-label">Sala</div><div class="display-field">101</div>
</fieldset>
</body></html>`

func TestParseClassDetail(t *testing.T) {
	d, err := ParseClassDetail(classDetailPage)
	require.NoError(t, err)
	assert.Equal(t, "07:30 - 09:10", d.Time)
	assert.Equal(t, "83-057", d.SubjectCode)
	assert.Equal(t, "ANATOMIA HUMANA I", d.SubjectName)
	assert.Equal(t, "M80D626.1", d.Group)
	assert.Equal(t, "A", d.Subgroup)
	assert.Equal(t, "02/02/2026", d.StartDate)
	assert.Equal(t, []string{"Maria Silva", "João Souza"}, d.Professors)
	assert.Equal(t, "Sede", d.Building)
	assert.Equal(t, "101", d.Room)
	assert.Empty(t, d.Block)
}

func TestParseClassDetailWithoutLocation(t *testing.T) {
	d, err := ParseClassDetail(`<div class="display-label">Sala</div><div class="display-field">101</div>`)
	require.NoError(t, err)
	assert.Empty(t, d.Room, "location fields need the location fieldset")
	assert.NotNil(t, d.Professors)
	assert.Empty(t, d.Professors)
}

func TestClassDetailPath(t *testing.T) {
	assert.Equal(t, "/EducaMobile/Educacional/EduAluno/EduQuadroHorarioAlunoDetalhe/2922575", ClassDetailPath("2922575"))
}
